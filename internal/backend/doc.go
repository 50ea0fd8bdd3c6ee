// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the generation backend consumed by the
// turn engine, plus the Ollama implementation of it.
//
// The streaming contract is cumulative: every Chunk carries the full
// text generated so far, not a delta. The engine overwrites the
// placeholder message wholesale on each chunk, which makes dropped or
// coalesced chunks harmless.
package backend
