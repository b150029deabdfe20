package packer

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	CipherRC4      = "rc4"
	CipherChaCha20 = "chacha20"
)

// Cipher is the symmetric primitive used for beats and session traffic.
type Cipher interface {
	Encrypt(data, key []byte) ([]byte, error)
	Decrypt(data, key []byte) ([]byte, error)
}

func NewCipher(name string) (Cipher, error) {
	switch name {
	case "", CipherRC4:
		return RC4{}, nil
	case CipherChaCha20:
		return ChaCha20{}, nil
	default:
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
}

// RC4 is a length-preserving stream cipher; the keystream restarts for every
// message, matching the controller.
type RC4 struct{}

func (RC4) Encrypt(data, key []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init rc4: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

func (r RC4) Decrypt(data, key []byte) ([]byte, error) {
	return r.Encrypt(data, key)
}

// ChaCha20 expands the key with HKDF-SHA256 and prefixes every message with a
// random nonce, so output is chacha20.NonceSize bytes longer than input.
type ChaCha20 struct{}

func (ChaCha20) expand(key []byte) ([]byte, error) {
	derived := make([]byte, chacha20.KeySize)
	kdf := hkdf.New(sha256.New, key, nil, []byte("silo-beacon chacha20"))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return derived, nil
}

func (c ChaCha20) Encrypt(data, key []byte) ([]byte, error) {
	derived, err := c.expand(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, chacha20.NonceSize+len(data))
	nonce := out[:chacha20.NonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(derived, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to init chacha20: %w", err)
	}
	stream.XORKeyStream(out[chacha20.NonceSize:], data)
	return out, nil
}

func (c ChaCha20) Decrypt(data, key []byte) ([]byte, error) {
	if len(data) < chacha20.NonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}
	derived, err := c.expand(key)
	if err != nil {
		return nil, err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(derived, data[:chacha20.NonceSize])
	if err != nil {
		return nil, fmt.Errorf("failed to init chacha20: %w", err)
	}
	out := make([]byte, len(data)-chacha20.NonceSize)
	stream.XORKeyStream(out, data[chacha20.NonceSize:])
	return out, nil
}
