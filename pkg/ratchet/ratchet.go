package ratchet

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// generateKeypair creates a new X25519 ratchet key pair.
func generateKeypair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("ratchet: generating private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

func dh(priv, pub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: x25519: %w", err)
	}
	return shared, nil
}

// kdfRK advances the root chain: BLAKE2b keyed by rk over the DH
// output, split into a new root key and a new chain key.
func kdfRK(rk RootKey, dhOut []byte) (RootKey, ChainKey) {
	h, _ := blake2b.New(64, rk[:])
	h.Write(dhOut)
	out := h.Sum(nil)
	var newRK RootKey
	var newCK ChainKey
	copy(newRK[:], out[:32])
	copy(newCK[:], out[32:])
	return newRK, newCK
}

// kdfCK advances a symmetric chain: two independent BLAKE2b-keyed MACs
// of fixed constants, one feeding the next chain key and one becoming
// the message key, as in the Signal whitepaper's recommended construction.
func kdfCK(ck ChainKey) (ChainKey, MessageKey) {
	ckMAC, _ := blake2b.New256(ck[:])
	ckMAC.Write([]byte{0x02})
	var newCK ChainKey
	copy(newCK[:], ckMAC.Sum(nil))

	mkMAC, _ := blake2b.New256(ck[:])
	mkMAC.Write([]byte{0x01})
	var mk MessageKey
	copy(mk[:], mkMAC.Sum(nil))

	return newCK, mk
}

// seal encrypts plaintext under mk with XChaCha20-Poly1305, authenticating
// additionalData. The nonce is fixed at zero: mk is a one-time message
// key never reused by kdfCK, so a fixed nonce under it is safe (one of
// the nonce-handling options the Double Ratchet whitepaper names).
func seal(mk MessageKey, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(mk[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: building aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// open decrypts ciphertext under mk, authenticating additionalData.
func open(mk MessageKey, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(mk[:])
	if err != nil {
		return nil, fmt.Errorf("ratchet: building aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("ratchet: auth failed: %w", err)
	}
	return plaintext, nil
}
