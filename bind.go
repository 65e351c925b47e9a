/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import "net/netip"

// Bind is the local/remote address pair a Peer is currently reachable
// at. It is a plain value swapped atomically under Peer.bind; no
// socket is actually opened by this package.
type Bind struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
}

// NewBind builds a Bind from a local/remote address pair.
func NewBind(local, remote netip.AddrPort) *Bind {
	return &Bind{Local: local, Remote: remote}
}
