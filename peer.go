/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/ovpn-dco/dcocore/errkind"
	"github.com/ovpn-dco/dcocore/metrics"
	"github.com/ovpn-dco/dcocore/ringqueue"
)

// QueueLen is the capacity of a Peer's TX and RX ring, matching
// peer.c's OVPN_QUEUE_LEN; a power of two, as ringqueue requires.
const QueueLen = 1024

var (
	keepaliveMessage          = []byte{0x00}
	explicitExitNotifyMessage = []byte{0x01}
)

// PeerStatus is a reserved, write-once diagnostic field stamped at
// construction and never transitioned afterward. Peer liveness is
// tracked entirely through halt and refcount, not through status
// transitions.
type PeerStatus int

const (
	StatusActive PeerStatus = iota
)

// Packet is one element of a Peer's TX or RX queue. KeyID and Counter
// are only meaningful for inbound packets (they select which
// CryptoState slot decrypts the packet and under which nonce
// counter); an outbound packet is always encrypted under the primary
// slot with a freshly allocated counter.
type Packet struct {
	Data    []byte
	KeyID   uint32
	Counter uint64
}

// Transport is the peer's outbound collaborator: handing a sealed
// packet to the network. Out of scope: actually opening a socket.
type Transport interface {
	Transmit(ciphertext []byte) error
}

// Delivery is the peer's inbound collaborator: handing a decrypted
// packet up to the TUN device. Out of scope: the TUN device itself.
type Delivery interface {
	Deliver(plaintext []byte) error
}

// Peer aggregates one remote endpoint's crypto state, address
// binding, stats, keepalive timers, TX/RX queues and refcounted
// lifecycle.
type Peer struct {
	id     string
	status PeerStatus

	refcount atomic.Int64
	halt     atomic.Bool
	running  atomic.Bool

	mu sync.Mutex // serializes Start/Stop and explicit-exit-notify

	crypto *CryptoState
	bind   atomic.Pointer[Bind]
	stats  PeerStats

	tx *ringqueue.Queue[Packet]
	rx *ringqueue.Queue[Packet]

	keepaliveXmit     *peerTimer
	keepaliveExpire   *peerTimer
	suppressXmitReset atomic.Bool

	resetLimiter *resetLimiter

	clk       clock.Clock
	log       *Logger
	collector *metrics.Collector

	tunnel *Tunnel

	transport Transport
	delivery  Delivery

	group  *errgroup.Group
	cancel context.CancelFunc

	createdAt time.Time
}

var peerSeq atomic.Uint64

// PeerOption configures optional Peer collaborators at construction.
type PeerOption func(*Peer)

func WithClock(c clock.Clock) PeerOption { return func(p *Peer) { p.clk = c } }
func WithLogger(l *Logger) PeerOption    { return func(p *Peer) { p.log = l } }
func WithMetrics(c *metrics.Collector) PeerOption {
	return func(p *Peer) { p.collector = c }
}

// NewPeer constructs a new Peer bound to tunnel, with no crypto
// slots, no bind and no keepalive configured.
func NewPeer(tunnel *Tunnel, transport Transport, delivery Delivery, opts ...PeerOption) (*Peer, error) {
	if transport == nil || delivery == nil {
		return nil, errkind.New(errkind.InvalidArgument, "peer_new")
	}

	p := &Peer{
		id:           fmt.Sprintf("peer%d", peerSeq.Add(1)),
		status:       StatusActive,
		tunnel:       tunnel,
		transport:    transport,
		delivery:     delivery,
		clk:          clock.New(),
		log:          NewNopLogger(),
		resetLimiter: newResetLimiter(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.refcount.Store(1)
	p.crypto = NewCryptoState(p.log)
	p.tx = ringqueue.New[Packet](QueueLen)
	p.rx = ringqueue.New[Packet](QueueLen)
	p.keepaliveXmit = newPeerTimer(p, p.clk, xmitFire)
	p.keepaliveExpire = newPeerTimer(p, p.clk, expireFire)
	p.createdAt = p.clk.Now()

	if tunnel != nil {
		tunnel.hold()
	}
	if p.collector != nil {
		p.collector.Register(p)
	}
	return p, nil
}

// NewPeerWithBind constructs a Peer and immediately binds it to a
// local/remote address pair, releasing the partially constructed peer
// and surfacing the error if the bind is invalid.
func NewPeerWithBind(tunnel *Tunnel, transport Transport, delivery Delivery, local, remote netip.AddrPort, opts ...PeerOption) (*Peer, error) {
	p, err := NewPeer(tunnel, transport, delivery, opts...)
	if err != nil {
		return nil, err
	}
	if !local.IsValid() || !remote.IsValid() {
		p.Delete()
		return nil, errkind.New(errkind.InvalidArgument, "peer_new_with_sockaddr")
	}
	p.bind.Store(NewBind(local, remote))
	return p, nil
}

// hold adds a reference, failing if the peer's refcount has already
// reached zero.
func (p *Peer) hold() bool {
	for {
		n := p.refcount.Load()
		if n <= 0 {
			return false
		}
		if p.refcount.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// put releases a reference, synchronously running release() the
// instant the count reaches zero.
func (p *Peer) put() {
	if p.refcount.Add(-1) == 0 {
		p.release()
	}
}

// Delete consumes the peer's original construction reference,
// marking it halted. Idempotent: a second call is a no-op. Deletion
// may be deferred if other references (an armed timer, a data-path
// reader that called Tunnel.Get) are still outstanding.
func (p *Peer) Delete() {
	if !p.halt.CompareAndSwap(false, true) {
		return
	}
	p.put()
}

// release runs exactly once, when the refcount reaches zero.
func (p *Peer) release() {
	p.bind.Store(nil)

	p.keepaliveXmit.stop()
	p.keepaliveExpire.stop()
	if p.keepaliveXmit.isArmed() || p.keepaliveExpire.isArmed() {
		panic("dco: peer released while a keepalive timer is still armed")
	}

	if left := p.tx.Drain(); len(left) != 0 {
		p.log.Errorf("%s: release: tx queue not empty (%d packets), dropping", p.id, len(left))
	}
	if left := p.rx.Drain(); len(left) != 0 {
		p.log.Errorf("%s: release: rx queue not empty (%d packets), dropping", p.id, len(left))
	}

	if err := p.crypto.Release(); err != nil {
		p.log.Errorf("%s: release: crypto teardown: %v", p.id, err)
	}

	if p.collector != nil {
		p.collector.Unregister(p.id)
	}
	if p.tunnel != nil {
		p.tunnel.release()
	}
}

// Start launches the encrypt and decrypt workers. Calling Start twice
// (without an intervening Stop) is a no-op.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halt.Load() {
		return errkind.New(errkind.InvalidArgument, "peer_start")
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	gctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(gctx)
	p.group = g
	g.Go(func() error { return p.runEncryptWorker(gctx) })
	g.Go(func() error { return p.runDecryptWorker(gctx) })
	return nil
}

// Stop cancels and waits for both workers, surfacing the first
// worker error, if any.
func (p *Peer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		return p.group.Wait()
	}
	return nil
}

func (p *Peer) runEncryptWorker(ctx context.Context) error {
	for {
		for {
			pkt, ok := p.tx.Pop()
			if !ok {
				break
			}
			p.encryptAndTransmit(pkt)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !p.tx.Wait(ctx) {
			return nil
		}
	}
}

func (p *Peer) runDecryptWorker(ctx context.Context) error {
	for {
		for {
			pkt, ok := p.rx.Pop()
			if !ok {
				break
			}
			p.decryptAndDeliver(pkt)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if !p.rx.Wait(ctx) {
			return nil
		}
	}
}

func (p *Peer) encryptAndTransmit(pkt Packet) {
	h, err := p.crypto.Primary()
	if err != nil {
		p.stats.dropped.Add(1)
		return
	}
	defer h.Release()

	counter := p.stats.txPackets.Add(1)
	ciphertext := h.Seal(nil, pkt.Data, counter)
	if err := p.transport.Transmit(ciphertext); err != nil {
		p.stats.dropped.Add(1)
		p.log.Errorf("%s: transmit failed: %v", p.id, err)
		return
	}
	p.stats.txBytes.Add(uint64(len(ciphertext)))
	if !p.suppressXmitReset.Load() {
		p.keepaliveXmit.resetDeadline()
	}
}

func (p *Peer) decryptAndDeliver(pkt Packet) {
	h, err := p.crypto.Lookup(pkt.KeyID)
	if err != nil {
		p.stats.dropped.Add(1)
		return
	}
	defer h.Release()

	plaintext, err := h.Open(nil, pkt.Data, pkt.Counter)
	if err != nil {
		// Data-path auth/replay failures are counted and dropped, never
		// propagated to the caller.
		p.stats.dropped.Add(1)
		return
	}
	if err := p.delivery.Deliver(plaintext); err != nil {
		p.stats.dropped.Add(1)
		p.log.Errorf("%s: deliver failed: %v", p.id, err)
		return
	}
	p.stats.rxBytes.Add(uint64(len(plaintext)))
	p.stats.rxPackets.Add(1)
	p.keepaliveExpire.resetDeadline()
}

// EnqueueOutbound stages data for encryption and transmission,
// returning false if the TX queue is full.
func (p *Peer) EnqueueOutbound(data []byte) bool {
	return p.tx.Push(Packet{Data: data})
}

// EnqueueInbound stages a ciphertext packet for decryption, returning
// false if the RX queue is full.
func (p *Peer) EnqueueInbound(data []byte, keyID uint32, counter uint64) bool {
	return p.rx.Push(Packet{Data: data, KeyID: keyID, Counter: counter})
}

func (p *Peer) SetBind(b *Bind)      { p.bind.Store(b) }
func (p *Peer) CurrentBind() *Bind   { return p.bind.Load() }
func (p *Peer) Status() PeerStatus   { return p.status }
func (p *Peer) Halted() bool         { return p.halt.Load() }
func (p *Peer) CreatedAt() time.Time { return p.createdAt }

// SetSuppressXmitReset controls whether ordinary outgoing traffic
// resets the xmit keepalive deadline (disabled under a debug mode
// that wants to observe keepalives fire on schedule regardless of
// other traffic).
func (p *Peer) SetSuppressXmitReset(v bool) { p.suppressXmitReset.Store(v) }

// SetKeepalive configures both keepalive periods and (re)arms both
// timers. Calling it repeatedly with the same values is a no-op with
// respect to the peer's refcount.
func (p *Peer) SetKeepalive(ping, timeout time.Duration) {
	p.keepaliveXmit.setPeriod(ping)
	p.keepaliveExpire.setPeriod(timeout)
}

// ResetKey installs kr into the peer's crypto state, rate-limited per
// remote peer id to absorb a storm of rekey requests.
func (p *Peer) ResetKey(kr KeyReset) error {
	if !p.resetLimiter.allow(kr.RemotePeerID) {
		return errkind.New(errkind.InvalidArgument, "reset_key")
	}
	return p.crypto.Reset(kr)
}

// DeleteKey removes the named crypto slot.
func (p *Peer) DeleteKey(slot Slot) error { return p.crypto.DeleteSlot(slot) }

// SendExplicitExitNotify synchronously transmits the explicit exit
// notification, bypassing the TX queue and the fast path's usual
// preconditions entirely: a one-shot control-path send performed with
// the control mutex held.
func (p *Peer) SendExplicitExitNotify() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halt.Load() {
		return errkind.New(errkind.NotFound, "send_explicit_exit_notify")
	}
	return p.transport.Transmit(append([]byte(nil), explicitExitNotifyMessage...))
}

// xmitFire runs when the keepalive-xmit timer elapses. It stages a
// keepalive packet and, unless the peer has since been halted, rearms
// itself in place, reusing the reference this very firing is holding
// so the peer's refcount never transiently touches zero between the
// fire and the rearm.
func xmitFire(p *Peer) {
	rearmed := false
	if !p.halt.Load() {
		p.tx.Push(Packet{Data: append([]byte(nil), keepaliveMessage...)})
		rearmed = p.keepaliveXmit.rearmInPlace()
	}
	if !rearmed {
		p.put()
	}
}

// expireFire runs when the keepalive-expire deadline elapses without
// having been pushed back by an incoming packet: the peer is
// considered dead, so it simply releases the reference it held.
func expireFire(p *Peer) {
	p.put()
}

// --- metrics.Source ---

func (p *Peer) ID() string      { return p.id }
func (p *Peer) String() string  { return p.id }
func (p *Peer) Refcount() int64 { return p.refcount.Load() }

func (p *Peer) QueueDepths() (tx, rx int) { return p.tx.Len(), p.rx.Len() }

func (p *Peer) Snapshot() (txBytes, rxBytes, txPackets, rxPackets, dropped uint64) {
	return p.stats.Snapshot()
}
