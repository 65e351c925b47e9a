/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package dco

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/ovpn-dco/dcocore/cipherfamily"
	"github.com/ovpn-dco/dcocore/errkind"
)

// KeyReset is the control-path request that installs or replaces one
// of a CryptoState's two slots. CryptoFamily is the caller's declared
// family (validated against Key.CipherAlg's own family by Reset);
// RemotePeerID is stamped into the resulting KeySlot before it is
// published, so every reader that observes the new slot also
// observes the right peer id atomically.
type KeyReset struct {
	Slot         Slot
	CryptoFamily cipherfamily.Family
	RemotePeerID uint32
	Key          cipherfamily.KeyConfig
}

// CryptoState holds a peer's primary and secondary KeySlot, plus the
// crypto family both are bound to once the first slot is installed.
// Only two slots are ever live at once: a primary for new traffic and
// a secondary that lets packets encrypted under a just-superseded key
// keep decrypting while they drain.
type CryptoState struct {
	mu sync.Mutex // serializes control-path mutations; data-path reads never take it

	family cipherfamily.Family // immutable once bound away from Undefined

	primary   atomic.Pointer[KeySlot]
	secondary atomic.Pointer[KeySlot]

	log *Logger
}

// NewCryptoState returns a CryptoState with no slots installed and no
// family bound yet.
func NewCryptoState(log *Logger) *CryptoState {
	return &CryptoState{log: log}
}

func (cs *CryptoState) slotPtr(slot Slot) (*atomic.Pointer[KeySlot], error) {
	switch slot {
	case SlotPrimary:
		return &cs.primary, nil
	case SlotSecondary:
		return &cs.secondary, nil
	default:
		return nil, errkind.New(errkind.InvalidArgument, "cryptostate")
	}
}

// SelectFamily binds the state to family if it isn't bound yet, fails
// with family-changed if it's already bound to a different family,
// and is a no-op if it's already bound to family. CBC-HMAC is
// recognized but not implemented, so selecting it (or Undefined)
// always fails unsupported.
func (cs *CryptoState) SelectFamily(family cipherfamily.Family) error {
	if family != cipherfamily.AEAD {
		return errkind.New(errkind.Unsupported, "select_family")
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.family == cipherfamily.Undefined {
		cs.family = family
		return nil
	}
	if cs.family != family {
		return errkind.New(errkind.FamilyChanged, "select_family")
	}
	return nil
}

// Reset installs a freshly constructed KeySlot into kr.Slot, atomically
// swapping out (and releasing) whatever was there before. The first
// successful Reset binds the state's family. A KeyConfig whose
// algorithm maps to any family other than AEAD (the only implemented
// one) fails with unsupported, and a kr.CryptoFamily that disagrees
// with the KeyConfig's own family fails with invalid-argument; a
// failed Reset leaves the existing slots and the family binding
// untouched.
func (cs *CryptoState) Reset(kr KeyReset) error {
	ptr, err := cs.slotPtr(kr.Slot)
	if err != nil {
		return err
	}

	fam := cipherfamily.FamilyFor(kr.Key.CipherAlg)
	if kr.CryptoFamily != cipherfamily.Undefined && kr.CryptoFamily != fam {
		return errkind.New(errkind.InvalidArgument, "reset")
	}
	if fam != cipherfamily.AEAD {
		return errkind.New(errkind.Unsupported, "reset")
	}

	cs.mu.Lock()
	if cs.family != cipherfamily.Undefined && cs.family != fam {
		cs.mu.Unlock()
		return errkind.New(errkind.FamilyChanged, "reset")
	}

	cipherSlot, err := cipherfamily.New(fam, kr.Key)
	if err != nil {
		cs.mu.Unlock()
		return err
	}
	cs.family = fam
	newSlot := newKeySlot(kr.Key.KeyID, kr.RemotePeerID, cipherSlot)
	old := ptr.Swap(newSlot)
	cs.mu.Unlock()

	if cs.log != nil {
		fp := cipherSlot.Fingerprint()
		cs.log.Verbosef("cryptostate: installed %s slot key_id=%d remote_peer_id=%d fingerprint=%x", kr.Slot, kr.Key.KeyID, kr.RemotePeerID, fp[:8])
	}

	if old != nil {
		if err := old.put(); err != nil && cs.log != nil {
			cs.log.Errorf("cryptostate: teardown of replaced %s slot: %v", kr.Slot, err)
		}
	}
	return nil
}

// DeleteSlot removes and releases the named slot. A no-op if the
// slot is already empty.
func (cs *CryptoState) DeleteSlot(slot Slot) error {
	ptr, err := cs.slotPtr(slot)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	old := ptr.Swap(nil)
	cs.mu.Unlock()
	if old != nil {
		if err := old.put(); err != nil && cs.log != nil {
			cs.log.Errorf("cryptostate: teardown of deleted %s slot: %v", slot, err)
		}
	}
	return nil
}

// Release tears down both slots unconditionally, aggregating any
// teardown errors from each with multierr instead of discarding all
// but the first. In normal operation this never returns an error:
// Destroy only fails on an internal logic error.
func (cs *CryptoState) Release() error {
	cs.mu.Lock()
	p := cs.primary.Swap(nil)
	s := cs.secondary.Swap(nil)
	cs.mu.Unlock()

	var err error
	if p != nil {
		err = multierr.Append(err, p.put())
	}
	if s != nil {
		err = multierr.Append(err, s.put())
	}
	return err
}

// EncapOverhead returns the primary slot's per-packet overhead,
// failing with no-key if no primary slot is installed.
func (cs *CryptoState) EncapOverhead() (int, error) {
	h, err := cs.Primary()
	if err != nil {
		return 0, err
	}
	defer h.Release()
	return h.EncapOverhead(), nil
}

// Primary returns a held handle to the current primary slot, used by
// the encrypt path (new outbound packets always encrypt under the
// primary key).
func (cs *CryptoState) Primary() (*KeySlotHandle, error) {
	p := cs.primary.Load()
	if p == nil || !p.hold() {
		return nil, errkind.New(errkind.NoKey, "primary")
	}
	return &KeySlotHandle{slot: p}, nil
}

// Lookup returns a held handle to whichever of the two slots matches
// keyID, used by the decrypt path to select the slot an inbound
// packet's header key id names (so a packet still in flight under
// the just-superseded key can land on the secondary slot).
func (cs *CryptoState) Lookup(keyID uint32) (*KeySlotHandle, error) {
	if h := tryHold(cs.primary.Load(), keyID); h != nil {
		return h, nil
	}
	if h := tryHold(cs.secondary.Load(), keyID); h != nil {
		return h, nil
	}
	return nil, errkind.New(errkind.NoKey, "lookup")
}

func tryHold(ks *KeySlot, keyID uint32) *KeySlotHandle {
	if ks == nil || ks.keyID != keyID {
		return nil
	}
	if !ks.hold() {
		return nil
	}
	return &KeySlotHandle{slot: ks}
}

// Family reports the crypto family the state is bound to (Undefined
// until SelectFamily or a successful Reset has bound one).
func (cs *CryptoState) Family() cipherfamily.Family {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.family
}
