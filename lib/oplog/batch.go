// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/aura/lib/tree"
)

// BatchID identifies one transfer.
type BatchID [16]byte

// BatchMessage is one piece of an op transfer. The receiver knows the
// transfer is complete when a message with IsFinal arrives.
type BatchMessage struct {
	BatchID    BatchID           `cbor:"1,keyasint"`
	Items      []tree.AttestedOp `cbor:"2,keyasint"`
	TotalItems uint32            `cbor:"3,keyasint"`
	Sequence   uint32            `cbor:"4,keyasint"`
	IsFinal    bool              `cbor:"5,keyasint"`
}

// Batches splits ops into messages of at most size items. An empty op
// list still produces one final message so the receiver can complete.
func Batches(id BatchID, ops []tree.AttestedOp, size int) []BatchMessage {
	if size <= 0 {
		size = len(ops)
	}
	total := uint32(len(ops))
	if len(ops) == 0 {
		return []BatchMessage{{BatchID: id, TotalItems: 0, Sequence: 0, IsFinal: true}}
	}
	var batches []BatchMessage
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		batches = append(batches, BatchMessage{
			BatchID:    id,
			Items:      append([]tree.AttestedOp(nil), ops[start:end]...),
			TotalItems: total,
			Sequence:   uint32(len(batches)),
			IsFinal:    end == len(ops),
		})
	}
	return batches
}

// ErrBatchOutOfOrder is returned when a batch arrives with an
// unexpected sequence number or batch id.
var ErrBatchOutOfOrder = errors.New("oplog: batch out of order")

// Assembler collects the messages of one transfer.
type Assembler struct {
	id       BatchID
	started  bool
	next     uint32
	total    uint32
	items    []tree.AttestedOp
	complete bool
}

// Add accepts the next message. It returns true once the final
// message has arrived and the item count matches.
func (a *Assembler) Add(message BatchMessage) (bool, error) {
	if a.complete {
		return true, fmt.Errorf("%w: transfer already complete", ErrBatchOutOfOrder)
	}
	if !a.started {
		a.id, a.total, a.started = message.BatchID, message.TotalItems, true
	}
	if message.BatchID != a.id || message.Sequence != a.next {
		return false, fmt.Errorf("%w: got sequence %d, want %d", ErrBatchOutOfOrder, message.Sequence, a.next)
	}
	a.next++
	a.items = append(a.items, message.Items...)
	if message.IsFinal {
		if uint32(len(a.items)) != a.total {
			return false, fmt.Errorf("oplog: transfer carried %d items, announced %d", len(a.items), a.total)
		}
		a.complete = true
	}
	return a.complete, nil
}

// Items returns the collected ops.
func (a *Assembler) Items() []tree.AttestedOp { return a.items }
