package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alfredjeanlab/sdata/internal/authz"
)

func TestKeyFileRoundTrip(t *testing.T) {
	kp, err := authz.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "owner.key")
	if err := writeKeyFile(path, kp); err != nil {
		t.Fatalf("writeKeyFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key file mode = %o, want 600", perm)
	}

	got, err := readKeyFile(path)
	if err != nil {
		t.Fatalf("readKeyFile: %v", err)
	}
	if !got.Public.Equal(kp.Public) || !bytes.Equal(got.Private, kp.Private) {
		t.Fatal("key pair changed across the round trip")
	}

	// The loaded pair still signs verifiably.
	msg := []byte("hello")
	sig, err := got.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !(authz.Ed25519{}).Verify(kp.Public, msg, sig) {
		t.Error("signature from loaded key rejected")
	}
}

func TestReadSigners(t *testing.T) {
	dir := t.TempDir()
	kp, _ := authz.GenerateKey(nil)
	full := filepath.Join(dir, "full.key")
	if err := writeKeyFile(full, kp); err != nil {
		t.Fatal(err)
	}
	public := filepath.Join(dir, "public.key")
	if err := writeKeyFile(public, authz.KeyPair{Public: kp.Public}); err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.key")
	if err := os.WriteFile(garbage, []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}

	if signers, err := readSigners([]string{full}); err != nil || len(signers) != 1 {
		t.Fatalf("readSigners(full) = %d, %v", len(signers), err)
	}
	for name, paths := range map[string][]string{
		"none":        nil,
		"public only": {public},
		"garbage":     {garbage},
		"missing":     {filepath.Join(dir, "missing.key")},
	} {
		if _, err := readSigners(paths); err == nil {
			t.Errorf("%s: readSigners succeeded", name)
		}
	}
}
