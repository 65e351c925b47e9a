/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ovpn-dco/dcocore/errkind"
)

// ControlPlane is the shape a control-path transport binds to. No
// wire transport is implemented here; Tunnel implements this
// interface directly so a future transport has a seam without
// touching CryptoState/Peer internals.
type ControlPlane interface {
	InstallKey(peer *Peer, kr KeyReset) error
	DeleteKey(peer *Peer, slot Slot) error
	SetKeepalive(peer *Peer, ping, timeout time.Duration) error
	RemovePeer(peer *Peer) error
}

// Tunnel is the module's entry point: it holds the single active
// Peer a data-channel-offload tunnel currently routes through.
type Tunnel struct {
	mu      sync.Mutex // serializes install/replace/teardown
	current atomic.Pointer[Peer]

	// refcount tracks how many Peers are currently bound to this
	// tunnel. Nothing in this module tears the Tunnel itself down when
	// this reaches zero; that's the embedding application's call. It
	// gives tests and diagnostics an accurate count of live peers.
	refcount atomic.Int64
}

var _ ControlPlane = (*Tunnel)(nil)

// NewTunnel returns a Tunnel with no peer installed.
func NewTunnel() *Tunnel {
	return &Tunnel{}
}

func (t *Tunnel) hold()    { t.refcount.Add(1) }
func (t *Tunnel) release() { t.refcount.Add(-1) }

// LivePeers reports how many peers currently hold a reference on this
// tunnel.
func (t *Tunnel) LivePeers() int64 { return t.refcount.Load() }

// Get is the data-path entry point: a wait-free load of the current
// peer, upgraded to a counted handle. Returns false if there is no
// current peer, or if it's in the process of being torn down.
func (t *Tunnel) Get() (*Peer, bool) {
	p := t.current.Load()
	if p == nil || !p.hold() {
		return nil, false
	}
	return p, true
}

// Install publishes p as the tunnel's current peer. Fails with
// invalid-argument if a peer is already installed; use Replace for
// that.
func (t *Tunnel) Install(p *Peer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.Load() != nil {
		return errkind.New(errkind.InvalidArgument, "install")
	}
	t.current.Store(p)
	return nil
}

// Replace atomically swaps in p as the new current peer, deleting the
// old one (if any) only after the new one is visible, so a concurrent
// Get() never observes a gap.
func (t *Tunnel) Replace(p *Peer) *Peer {
	t.mu.Lock()
	old := t.current.Swap(p)
	t.mu.Unlock()
	if old != nil {
		old.Delete()
	}
	return old
}

// Teardown removes and deletes the current peer, if any.
func (t *Tunnel) Teardown() {
	t.mu.Lock()
	old := t.current.Swap(nil)
	t.mu.Unlock()
	if old != nil {
		old.Delete()
	}
}

// --- ControlPlane ---

func (t *Tunnel) InstallKey(p *Peer, kr KeyReset) error {
	return p.ResetKey(kr)
}

func (t *Tunnel) DeleteKey(p *Peer, slot Slot) error {
	return p.DeleteKey(slot)
}

func (t *Tunnel) SetKeepalive(p *Peer, ping, timeout time.Duration) error {
	p.SetKeepalive(ping, timeout)
	return nil
}

func (t *Tunnel) RemovePeer(p *Peer) error {
	t.Teardown()
	return nil
}
