// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay moves messages between chat platforms according to
// directional rules.
//
// # Core Types
//
// [Config] names the endpoints (a bot identity bound to one channel) and the
// [Rule] pairs that connect them.
//
// [Dispatcher] serves one rule. It filters inbound events, resolves quotes
// through the [CorrelationStore], converts the element tree with a
// [transform.Engine], sends the result through the destination [Bot] and
// records which outbound messages each inbound message produced.
//
// [Bridge] owns every dispatcher and routes events from platform clients to
// the dispatchers whose source endpoint matches. Platform clients see the
// bridge only as an [EventSink].
//
// # Quotes
//
// A quoted message is either a relay artifact (written by a bot) or an
// original message. Artifacts are looked up by their target identity and
// quoted through the record's source id; originals are looked up by their
// source identity and quoted through the record's target id. Candidate
// records are always narrowed to the destination bot and channel so that
// copies made by other rules are never quoted.
package relay
