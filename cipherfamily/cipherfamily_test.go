package cipherfamily

import (
	"bytes"
	"testing"

	"github.com/ovpn-dco/dcocore/errkind"
)

func testKeyConfig() KeyConfig {
	return KeyConfig{
		CipherAlg:        CipherAESGCM,
		KeyID:            1,
		EncryptKey:       bytes.Repeat([]byte{0x11}, 32),
		EncryptNonceTail: [4]byte{0xaa, 0xaa, 0xaa, 0xaa},
		DecryptKey:       bytes.Repeat([]byte{0x22}, 32),
		DecryptNonceTail: [4]byte{0xbb, 0xbb, 0xbb, 0xbb},
	}
}

func TestFamilyForMapsAlgorithms(t *testing.T) {
	cases := map[CipherAlg]Family{
		CipherUndefined: Undefined,
		CipherAESGCM:    AEAD,
		CipherAESCBC:    CBCHMAC,
	}
	for alg, want := range cases {
		if got := FamilyFor(alg); got != want {
			t.Errorf("FamilyFor(%v) = %v, want %v", alg, got, want)
		}
	}
}

func TestNewRejectsCBCHMAC(t *testing.T) {
	_, err := New(CBCHMAC, testKeyConfig())
	kind, ok := errkind.Of(err)
	if !ok || kind != errkind.Unsupported {
		t.Fatalf("New(CBCHMAC, ...) kind = (%v, %v), want (unsupported, true)", kind, ok)
	}
}

func TestEncapOverhead(t *testing.T) {
	slot, err := New(AEAD, testKeyConfig())
	if err != nil {
		t.Fatalf("New(AEAD, ...) error: %v", err)
	}
	if got, want := slot.EncapOverhead(), 20; got != want {
		t.Fatalf("EncapOverhead() = %d, want %d", got, want)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	sendCfg := testKeyConfig()
	recvCfg := KeyConfig{
		CipherAlg:        CipherAESGCM,
		KeyID:            1,
		EncryptKey:       sendCfg.DecryptKey,
		EncryptNonceTail: sendCfg.DecryptNonceTail,
		DecryptKey:       sendCfg.EncryptKey,
		DecryptNonceTail: sendCfg.EncryptNonceTail,
	}

	sender, err := New(AEAD, sendCfg)
	if err != nil {
		t.Fatalf("sender New: %v", err)
	}
	receiver, err := New(AEAD, recvCfg)
	if err != nil {
		t.Fatalf("receiver New: %v", err)
	}

	plaintext := []byte("hello, data channel")
	ciphertext := sender.Seal(nil, plaintext, 1)
	// Seal appends only the AEAD tag; the 4-byte packet-id counted by
	// EncapOverhead travels in the packet header, not in Seal's output.
	if want := len(plaintext) + sender.EncapOverhead() - 4; len(ciphertext) != want {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), want)
	}

	got, err := receiver.Open(nil, ciphertext, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Open() = %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsReplay(t *testing.T) {
	sendCfg := testKeyConfig()
	recvCfg := KeyConfig{
		CipherAlg:        CipherAESGCM,
		KeyID:            1,
		EncryptKey:       sendCfg.DecryptKey,
		EncryptNonceTail: sendCfg.DecryptNonceTail,
		DecryptKey:       sendCfg.EncryptKey,
		DecryptNonceTail: sendCfg.EncryptNonceTail,
	}
	sender, _ := New(AEAD, sendCfg)
	receiver, _ := New(AEAD, recvCfg)

	ciphertext := sender.Seal(nil, []byte("payload"), 5)
	if _, err := receiver.Open(nil, ciphertext, 5); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := receiver.Open(nil, ciphertext, 5); err == nil {
		t.Fatalf("replayed Open() = nil error, want bad-auth")
	}
}

func TestOpenRejectsBadAuth(t *testing.T) {
	sendCfg := testKeyConfig()
	recvCfg := KeyConfig{
		CipherAlg:        CipherAESGCM,
		KeyID:            1,
		EncryptKey:       sendCfg.DecryptKey,
		EncryptNonceTail: sendCfg.DecryptNonceTail,
		DecryptKey:       sendCfg.EncryptKey,
		DecryptNonceTail: sendCfg.EncryptNonceTail,
	}
	sender, _ := New(AEAD, sendCfg)
	receiver, _ := New(AEAD, recvCfg)

	ciphertext := sender.Seal(nil, []byte("payload"), 1)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err := receiver.Open(nil, ciphertext, 1)
	kind, ok := errkind.Of(err)
	if !ok || kind != errkind.BadAuth {
		t.Fatalf("Open(tampered) kind = (%v, %v), want (bad-auth, true)", kind, ok)
	}
}
