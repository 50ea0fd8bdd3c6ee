// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings holds the three user preferences the turn engine
// consumes: streaming on/off, temperature, and system instructions.
//
// Components never read settings ambiently. Each turn receives an
// immutable Snapshot, and any change to the stored settings is
// announced through the change hook so the engine can drop its
// generation handle.
package settings
