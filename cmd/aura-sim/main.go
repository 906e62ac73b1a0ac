// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// aura-sim runs a deterministic end-to-end scenario over simulated
// devices and prints a JSON summary of what happened.
//
// The scenario derives a shared key with DKD, grows a commitment tree
// from ops spread across the devices, reconciles the devices through
// anti-entropy, runs a guardian recovery for the account, and finally
// validates every device's storage. Every identity and key derives
// from --seed, so two runs with the same flags print the same tree
// roots and derived keys.
//
// Configuration comes from --config, then AURA_CONFIG, then the
// built-in defaults.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/aura/lib/config"
	"github.com/bureau-foundation/aura/lib/process"
	"github.com/bureau-foundation/aura/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		outputPath  string
		showVersion bool
		options     scenario
	)

	flagSet := pflag.NewFlagSet("aura-sim", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $AURA_CONFIG, else built-in defaults)")
	flagSet.Uint64Var(&options.Seed, "seed", 1, "seed every identity and key derives from")
	flagSet.IntVar(&options.Devices, "devices", 3, "number of simulated devices")
	flagSet.Uint16Var(&options.Threshold, "threshold", 2, "signing threshold for DKD and guardian recovery")
	flagSet.IntVar(&options.Operations, "ops", 4, "tree operations to distribute across devices")
	flagSet.StringVar(&outputPath, "output", "", "write the JSON summary to this file instead of stdout")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("aura-sim %s\n", version.Info())
		return nil
	}
	if err := options.validate(); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.SessionRuntime.DefaultTimeout())
	defer cancel()

	summary, err := simulate(ctx, cfg, options, logger)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	data = append(data, '\n')
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	} else {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
		logger.Info("summary written", "path", outputPath)
	}
	if !summary.Sync.Converged {
		return divergedError{}
	}
	return nil
}

// divergedError exits with status 2 so scripts can tell a completed run
// whose devices disagree from a run that failed outright.
type divergedError struct{}

func (divergedError) Error() string { return "devices did not converge after anti-entropy" }
func (divergedError) ExitCode() int { return 2 }

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}
