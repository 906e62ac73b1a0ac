// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Aura nodes.
//
// Configuration is loaded from a single file specified by either the
// AURA_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. Values the file omits keep their [Default].
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production without its own section
// switches to the production timeout preset.
//
// ${HOME} and ${VAR:-default} patterns are expanded in storage.path
// after loading. Validation combines go-playground/validator struct
// tags with cross-field rules and reports every failure at once.
//
// Sections map onto the components they configure:
// [AntiEntropyConfig.Service], [SessionRuntimeConfig.Runtime],
// [SessionRuntimeConfig.Retry], [TimeoutsConfig.Resolve] and
// [Config.OpenStorage].
package config
