// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage serializes slate's two persisted aggregates — the
// session index and the per-session message map — to and from the
// blob store.
//
// A corrupt or missing blob is never fatal: load operations fall back
// to the empty aggregate so the client always starts, at worst with
// an empty session list.
package storage
