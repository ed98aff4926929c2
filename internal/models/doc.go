// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

/*
Package models defines the data exchanged between a mediasync client and the
coordination server.

Key Components:

  - Operation: one recorded mutation to a single collection, tagged with the
    producing device and its wall-clock time in milliseconds
  - Snapshot: the server's full authoritative library state at an instant
  - Message: the JSON envelope used on the /ws/sync socket
  - Device, ApprovalStatus, ConnectionState: session bookkeeping

Collections and actions:

	addons             add, update, remove
	watch_history      upsert, remove, clear
	my_list            add, remove
	continue_watching  hide, unhide
	profiles           upsert, remove

Operations are values. Constructors copy the payload bytes and nothing in the
code base mutates an Operation after it is built, so an Operation can be
queued, persisted, sent and applied without defensive copies.

All JSON goes through github.com/goccy/go-json.
*/
package models
