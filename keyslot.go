/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import (
	"sync/atomic"

	"github.com/ovpn-dco/dcocore/cipherfamily"
)

// Slot identifies which of a CryptoState's two key slots an
// operation targets.
type Slot int

const (
	SlotPrimary Slot = iota
	SlotSecondary
)

func (s Slot) String() string {
	switch s {
	case SlotPrimary:
		return "primary"
	case SlotSecondary:
		return "secondary"
	default:
		return "invalid"
	}
}

// KeySlot is an immutable, refcounted, keyed AEAD context: once
// constructed its key material and key id never change. It is
// published into a CryptoState via an atomic pointer swap and torn
// down only once its reader count has dropped to zero.
type KeySlot struct {
	keyID        uint32
	remotePeerID uint32
	cipher       *cipherfamily.Slot

	// refs starts at 1, representing the reference the installing
	// CryptoState slot holds. Each concurrent reader adds one via
	// hold and removes it via put; the cipher context is destroyed
	// the moment the count reaches zero and can never be resurrected
	// (hold on a zero count always fails).
	refs atomic.Int32
}

func newKeySlot(keyID, remotePeerID uint32, cipher *cipherfamily.Slot) *KeySlot {
	ks := &KeySlot{keyID: keyID, remotePeerID: remotePeerID, cipher: cipher}
	ks.refs.Store(1)
	return ks
}

// hold adds a reader reference, failing if the slot is already being
// (or has already been) torn down.
func (ks *KeySlot) hold() bool {
	for {
		n := ks.refs.Load()
		if n <= 0 {
			return false
		}
		if ks.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// put releases a reader reference, destroying the underlying cipher
// contexts the instant the count reaches zero.
func (ks *KeySlot) put() error {
	if ks.refs.Add(-1) == 0 {
		return ks.cipher.Destroy()
	}
	return nil
}

func (ks *KeySlot) KeyID() uint32        { return ks.keyID }
func (ks *KeySlot) RemotePeerID() uint32 { return ks.remotePeerID }

// EncapOverhead returns the per-packet overhead this slot's cipher
// family adds.
func (ks *KeySlot) EncapOverhead() int { return ks.cipher.EncapOverhead() }

// Seal encrypts plaintext under counter, appending to dst.
func (ks *KeySlot) Seal(dst, plaintext []byte, counter uint64) []byte {
	return ks.cipher.Seal(dst, plaintext, counter)
}

// Open authenticates and decrypts ciphertext sealed under counter,
// appending the plaintext to dst.
func (ks *KeySlot) Open(dst, ciphertext []byte, counter uint64) ([]byte, error) {
	return ks.cipher.Open(dst, ciphertext, counter)
}

// KeySlotHandle is a held reference to a KeySlot, returned by
// CryptoState.Lookup/Primary. Callers must call Release exactly once
// when done; Release is safe to call more than once (idempotent).
type KeySlotHandle struct {
	slot     *KeySlot
	released atomic.Bool
}

func (h *KeySlotHandle) Release() {
	if h.released.CompareAndSwap(false, true) {
		if err := h.slot.put(); err != nil {
			// Destroy only ever returns non-nil on an internal logic
			// error (e.g. double free); there is no recovery path
			// for a data-path caller here beyond surfacing it.
			_ = err
		}
	}
}

func (h *KeySlotHandle) KeyID() uint32        { return h.slot.KeyID() }
func (h *KeySlotHandle) RemotePeerID() uint32 { return h.slot.RemotePeerID() }
func (h *KeySlotHandle) EncapOverhead() int   { return h.slot.EncapOverhead() }

func (h *KeySlotHandle) Seal(dst, plaintext []byte, counter uint64) []byte {
	return h.slot.Seal(dst, plaintext, counter)
}

func (h *KeySlotHandle) Open(dst, ciphertext []byte, counter uint64) ([]byte, error) {
	return h.slot.Open(dst, ciphertext, counter)
}
