package authz

import (
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/sdata/internal/model"
)

func TestEd25519_SignVerify(t *testing.T) {
	kp, err := GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(kp.Public) != PublicKeySize || len(kp.Private) != PrivateKeySize {
		t.Fatalf("key sizes = %d/%d", len(kp.Public), len(kp.Private))
	}

	s, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(s) != SignatureSize {
		t.Fatalf("signature size = %d, want %d", len(s), SignatureSize)
	}

	var v Ed25519
	if !v.Verify(kp.Public, msg, s) {
		t.Error("valid signature rejected")
	}
	if v.Verify(kp.Public, []byte("tampered"), s) {
		t.Error("signature over different message accepted")
	}
	flipped := append([]byte(nil), s...)
	flipped[0] ^= 0xff
	if v.Verify(kp.Public, msg, flipped) {
		t.Error("corrupted signature accepted")
	}
	if v.Verify(kp.Public[:10], msg, s) {
		t.Error("short key accepted")
	}
	if v.Verify(kp.Public, msg, s[:10]) {
		t.Error("short signature accepted")
	}
}

func TestEd25519_Authorize(t *testing.T) {
	a, _ := GenerateKey(nil)
	b, _ := GenerateKey(nil)
	stranger, _ := GenerateKey(nil)

	p, err := model.NewPolicy([]model.OwnerKey{
		{Key: a.Public, Weight: 2},
		{Key: b.Public, Weight: 3},
	}, 4, time.Time{}, nil)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	ev, err := SignAll(msg, a, stranger)
	if err != nil {
		t.Fatalf("SignAll: %v", err)
	}
	if _, err := Authorize(p, msg, ev, Ed25519{}); !errors.Is(err, model.ErrInsufficientWeight) {
		t.Fatalf("a+stranger err = %v, want ErrInsufficientWeight", err)
	}

	ev, _ = SignAll(msg, a, b)
	res, err := Authorize(p, msg, ev, Ed25519{})
	if err != nil {
		t.Fatalf("a+b: %v", err)
	}
	if res.Weight != 5 {
		t.Errorf("weight = %d, want 5", res.Weight)
	}
}

func TestKeyPair_SignRejectsBadKey(t *testing.T) {
	if _, err := (KeyPair{Private: []byte("short")}).Sign(msg); err == nil {
		t.Error("expected error for short private key")
	}
}
