package authz

import (
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/sign"

	"github.com/alfredjeanlab/sdata/internal/model"
)

const (
	// PublicKeySize is the length of an Ed25519 public key.
	PublicKeySize = 32
	// PrivateKeySize is the length of an Ed25519 secret key (seed plus public key).
	PrivateKeySize = 64
	// SignatureSize is the length of a detached signature.
	SignatureSize = sign.Overhead
)

// Ed25519 verifies detached Ed25519 signatures in the libsodium
// crypto_sign format.
type Ed25519 struct{}

// Verify reports whether signature is a valid signature of message by key.
// Malformed keys and signatures are simply invalid.
func (Ed25519) Verify(key model.PublicKey, message, signature []byte) bool {
	if len(key) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	var pk [PublicKeySize]byte
	copy(pk[:], key)

	signed := make([]byte, 0, SignatureSize+len(message))
	signed = append(signed, signature...)
	signed = append(signed, message...)
	_, ok := sign.Open(nil, signed, &pk)
	return ok
}

// KeyPair is an owner key pair used by clients to sign candidates.
type KeyPair struct {
	Public  model.PublicKey `json:"public"`
	Private []byte          `json:"private"`
}

// GenerateKey creates a key pair from rand (crypto/rand.Reader if nil).
func GenerateKey(rand io.Reader) (KeyPair, error) {
	pub, priv, err := sign.GenerateKey(rand)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{Public: model.PublicKey(pub[:]), Private: priv[:]}, nil
}

// Sign returns the detached signature of message.
func (kp KeyPair) Sign(message []byte) ([]byte, error) {
	if len(kp.Private) != PrivateKeySize {
		return nil, fmt.Errorf("sign: private key must be %d bytes, got %d", PrivateKeySize, len(kp.Private))
	}
	var sk [PrivateKeySize]byte
	copy(sk[:], kp.Private)
	signed := sign.Sign(nil, message, &sk)
	return signed[:SignatureSize], nil
}

// SignAll signs message with every key pair, producing evidence.
func SignAll(message []byte, pairs ...KeyPair) (Evidence, error) {
	ev := make(Evidence, 0, len(pairs))
	for _, kp := range pairs {
		sig, err := kp.Sign(message)
		if err != nil {
			return nil, err
		}
		ev = append(ev, Signature{Key: kp.Public, Signature: sig})
	}
	return ev, nil
}
