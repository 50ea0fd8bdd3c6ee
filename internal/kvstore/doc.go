// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides the opaque blob store backing slate's
// persistence: put/get of byte blobs under string keys. The storage
// layer above it decides what goes into a blob; this package never
// inspects one.
package kvstore
