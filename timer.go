/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// peerTimer is one of a Peer's two keepalive timers (xmit, expire).
// Arming it takes a reference on the owning peer; firing or
// explicitly disarming it releases that reference. The refcount delta
// for any single call to setPeriod/rearmInPlace/stop is applied
// without ever letting another goroutine observe an intermediate,
// too-low refcount.
//
// Guarded by its own mutex; arm/disarm never runs concurrently with
// itself.
type peerTimer struct {
	mu     sync.Mutex
	peer   *Peer
	clk    clock.Clock
	period time.Duration
	armed  bool
	timer  *clock.Timer
	fire   func(p *Peer)
}

func newPeerTimer(p *Peer, clk clock.Clock, fire func(p *Peer)) *peerTimer {
	return &peerTimer{peer: p, clk: clk, fire: fire}
}

// setPeriod changes the timer's period and (re)arms or disarms it to
// match, holding or releasing exactly one peer reference for the
// transition. Calling setPeriod repeatedly with the same positive
// period re-arms the deadline (a fresh countdown) but leaves the
// refcount untouched, which is what makes repeated keepalive
// configuration idempotent.
func (pt *peerTimer) setPeriod(d time.Duration) {
	pt.mu.Lock()
	pt.period = d
	wantArmed := d > 0
	holdDelta := 0
	switch {
	case wantArmed && !pt.armed:
		holdDelta = 1
	case !wantArmed && pt.armed:
		holdDelta = -1
	}
	if wantArmed {
		if pt.timer != nil {
			pt.timer.Stop()
		}
		pt.timer = pt.clk.AfterFunc(d, pt.onFire)
	} else if pt.timer != nil {
		pt.timer.Stop()
		pt.timer = nil
	}
	pt.armed = wantArmed
	pt.mu.Unlock()

	switch holdDelta {
	case 1:
		if !pt.peer.hold() {
			// Peer is already gone: undo the arm, no reference was
			// actually acquired.
			pt.mu.Lock()
			if pt.timer != nil {
				pt.timer.Stop()
				pt.timer = nil
			}
			pt.armed = false
			pt.mu.Unlock()
		}
	case -1:
		pt.peer.put()
	}
}

// resetDeadline re-arms an already-armed timer to fire `period` from
// now, without any refcount change. Called on every packet that
// should push the deadline back (an outgoing packet for the xmit
// timer, any incoming packet for the expire timer).
func (pt *peerTimer) resetDeadline() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.armed || pt.period <= 0 {
		return
	}
	if pt.timer != nil {
		pt.timer.Stop()
	}
	pt.timer = pt.clk.AfterFunc(pt.period, pt.onFire)
}

// stop unconditionally disarms the timer, releasing the reference it
// held if it was armed.
func (pt *peerTimer) stop() {
	pt.mu.Lock()
	wasArmed := pt.armed
	if pt.timer != nil {
		pt.timer.Stop()
		pt.timer = nil
	}
	pt.armed = false
	pt.mu.Unlock()
	if wasArmed {
		pt.peer.put()
	}
}

func (pt *peerTimer) isArmed() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.armed
}

// onFire runs on the clock's own goroutine when the timer elapses. It
// marks the timer disarmed and hands off to the peer-supplied fire
// callback, which owns deciding whether (and how) to rearm.
func (pt *peerTimer) onFire() {
	pt.mu.Lock()
	pt.armed = false
	pt.mu.Unlock()
	pt.fire(pt.peer)
}

// rearmInPlace re-arms the timer using its existing period, reusing
// the reference the firing callback is currently holding rather than
// dropping and reacquiring one. This keeps xmitFire's refcount delta
// at net zero without ever letting the peer's refcount touch zero in
// between. Returns false (arming nothing) if the period has since
// been cleared.
func (pt *peerTimer) rearmInPlace() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.period <= 0 {
		return false
	}
	pt.timer = pt.clk.AfterFunc(pt.period, pt.onFire)
	pt.armed = true
	return true
}
