/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package cipherfamily implements the {new, destroy, encap_overhead,
// seal, open} dispatch table that CryptoState and KeySlot build on.
// A Family is a pure function of a KeyConfig's cipher algorithm id;
// only the AEAD family is currently backed by a working cipher. The
// CBC-HMAC family is recognized but deliberately left unimplemented.
package cipherfamily

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.zx2c4.com/wireguard/replay"

	"github.com/ovpn-dco/dcocore/errkind"
)

// Family is the high-level crypto family a KeyReset binds a
// CryptoState to. It is immutable for the lifetime of the state once
// the first slot is installed.
type Family int

const (
	Undefined Family = iota
	AEAD
	CBCHMAC
)

func (f Family) String() string {
	switch f {
	case AEAD:
		return "aead"
	case CBCHMAC:
		return "cbc-hmac"
	default:
		return "undefined"
	}
}

// CipherAlg is the wire-level algorithm identifier carried in a
// KeyConfig. FamilyFor maps it to the Family it belongs to.
type CipherAlg uint8

const (
	CipherUndefined CipherAlg = iota
	// CipherAESGCM is the external algorithm id used on the wire and in
	// KeyConfig; the AEAD family it selects is backed by
	// ChaCha20-Poly1305, a 256-bit-key/96-bit-nonce AEAD with a
	// 16-byte tag, so the choice of cipher is transparent to everything
	// above this package.
	CipherAESGCM
	// CipherAESCBC selects the reserved, unimplemented CBC-HMAC family.
	CipherAESCBC
)

// FamilyFor maps a wire cipher algorithm id to its crypto family. It
// is a pure function.
func FamilyFor(alg CipherAlg) Family {
	switch alg {
	case CipherAESGCM:
		return AEAD
	case CipherAESCBC:
		return CBCHMAC
	default:
		return Undefined
	}
}

// KeyConfig carries the per-direction key material for one slot, as
// handed to userspace by the control channel. NonceTail is the
// 4-byte per-direction salt that, concatenated with an 8-byte packet
// counter, forms the 12-byte AEAD nonce.
type KeyConfig struct {
	CipherAlg CipherAlg
	KeyID     uint32

	EncryptKey       []byte
	EncryptNonceTail [4]byte

	DecryptKey       []byte
	DecryptNonceTail [4]byte
}

// Slot is the concrete, family-specific cipher context pair produced
// by New. It is owned exclusively by a KeySlot, which adds the
// refcounted lifecycle on top.
type Slot struct {
	family Family

	encrypt cipher.AEAD
	decrypt cipher.AEAD

	encryptNonceTail [4]byte
	decryptNonceTail [4]byte

	replay      replay.Filter
	fingerprint [blake2s.Size]byte
}

// New builds the cipher contexts for family from kc. family must
// already have been validated against kc's own algorithm (FamilyFor)
// by the caller; New itself only dispatches on family.
func New(family Family, kc KeyConfig) (*Slot, error) {
	switch family {
	case AEAD:
		return newAEAD(kc)
	case CBCHMAC:
		return nil, errkind.New(errkind.Unsupported, "cipherfamily.new")
	default:
		return nil, errkind.New(errkind.Unsupported, "cipherfamily.new")
	}
}

func newAEAD(kc KeyConfig) (*Slot, error) {
	if len(kc.EncryptKey) != chacha20poly1305.KeySize || len(kc.DecryptKey) != chacha20poly1305.KeySize {
		return nil, errkind.New(errkind.InvalidArgument, "cipherfamily.new")
	}
	enc, err := chacha20poly1305.New(kc.EncryptKey)
	if err != nil {
		return nil, errkind.Wrap(errkind.OutOfMemory, "cipherfamily.new", err)
	}
	dec, err := chacha20poly1305.New(kc.DecryptKey)
	if err != nil {
		return nil, errkind.Wrap(errkind.OutOfMemory, "cipherfamily.new", err)
	}

	s := &Slot{
		family:           AEAD,
		encrypt:          enc,
		decrypt:          dec,
		encryptNonceTail: kc.EncryptNonceTail,
		decryptNonceTail: kc.DecryptNonceTail,
	}
	s.fingerprint = blake2s.Sum256(append(append([]byte{}, kc.EncryptKey...), kc.DecryptKey...))
	return s, nil
}

// Destroy zeroes the slot's nonce tails and drops its references to
// the encrypt/decrypt AEAD contexts; the key bytes held inside those
// contexts are not overwritten. It is safe to call exactly once, after
// the last reader has released the slot.
func (s *Slot) Destroy() error {
	for i := range s.encryptNonceTail {
		s.encryptNonceTail[i] = 0
		s.decryptNonceTail[i] = 0
	}
	s.encrypt = nil
	s.decrypt = nil
	return nil
}

// EncapOverhead returns the number of bytes an encapsulated packet
// carries beyond the plaintext: the AEAD tag that Seal appends plus the
// 4-byte wire packet-id field, which Seal itself does not emit.
func (s *Slot) EncapOverhead() int {
	return s.encrypt.Overhead() + 4
}

// Fingerprint returns the diagnostic-only BLAKE2s digest of this
// slot's key material, for install-time logging.
func (s *Slot) Fingerprint() [blake2s.Size]byte { return s.fingerprint }

func nonce(tail [4]byte, counter uint64) []byte {
	var n [chacha20poly1305.NonceSize]byte
	copy(n[:4], tail[:])
	binary.BigEndian.PutUint64(n[4:], counter)
	return n[:]
}

// Seal encrypts plaintext under counter, appending the result to dst.
func (s *Slot) Seal(dst, plaintext []byte, counter uint64) []byte {
	return s.encrypt.Seal(dst, nonce(s.encryptNonceTail, counter), plaintext, nil)
}

// Open authenticates and decrypts ciphertext sealed under counter,
// appending the plaintext to dst. Replay detection runs before the
// cipher is invoked: a replayed or out-of-window counter is reported
// as bad-auth without ever touching the cipher context.
func (s *Slot) Open(dst, ciphertext []byte, counter uint64) ([]byte, error) {
	if !s.replay.ValidateCounter(counter, ^uint64(0)) {
		return nil, errkind.New(errkind.BadAuth, "cipherfamily.open")
	}
	pt, err := s.decrypt.Open(dst, nonce(s.decryptNonceTail, counter), ciphertext, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.BadAuth, "cipherfamily.open", err)
	}
	return pt, nil
}

func (s *Slot) String() string {
	return fmt.Sprintf("cipherfamily.Slot{family=%s fingerprint=%x}", s.family, s.fingerprint[:8])
}
