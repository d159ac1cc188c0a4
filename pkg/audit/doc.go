// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit records the lifecycle of tokens: creation, expiry edits,
// revocation and natural expiry. Events are written to a Store and to
// the structured log.
package audit
