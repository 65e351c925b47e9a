/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import (
	"sync"

	"golang.org/x/time/rate"
)

// Default rate-limit parameters for key resets requested by a given
// remote peer id: a legitimate control channel rekeys at most every
// few minutes, so a handful of resets per second is already generous
// headroom for this to never interfere with normal rotation while
// still bounding a misbehaving or spoofed control channel.
const (
	resetRatePerSecond = 5
	resetBurst         = 3
)

// resetLimiter throttles CryptoState.Reset calls per remote peer id.
// Adapted from ratelimiter/ratelimiter.go's hand-rolled token bucket,
// upgraded to golang.org/x/time/rate.Limiter (the real library named
// in WireGuard's own go.mod) and narrowed from a global address-keyed
// table to the single remote peer id a Peer's control path actually
// needs to guard.
type resetLimiter struct {
	mu       sync.Mutex
	limiters map[uint32]*rate.Limiter
}

func newResetLimiter() *resetLimiter {
	return &resetLimiter{limiters: make(map[uint32]*rate.Limiter)}
}

func (rl *resetLimiter) allow(remotePeerID uint32) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[remotePeerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(resetRatePerSecond), resetBurst)
		rl.limiters[remotePeerID] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}
