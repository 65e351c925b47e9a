/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import "sync/atomic"

// PeerStats tracks per-peer byte/packet counters on the data path.
type PeerStats struct {
	txBytes   atomic.Uint64
	rxBytes   atomic.Uint64
	txPackets atomic.Uint64
	rxPackets atomic.Uint64
	dropped   atomic.Uint64
}

// Snapshot returns the current counter values, for metrics export or
// diagnostics. Never blocks, never allocates.
func (s *PeerStats) Snapshot() (txBytes, rxBytes, txPackets, rxPackets, dropped uint64) {
	return s.txBytes.Load(), s.rxBytes.Load(), s.txPackets.Load(), s.rxPackets.Load(), s.dropped.Load()
}
