package store

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Encrypted documents are laid out as
//
//	"CBENC1\n" | 24 byte XChaCha20 nonce | ciphertext+tag
//
// with the magic as additional data. The 32 byte key is
// HKDF-SHA256(secret, salt="clinicbook/store", info="record-store v1").
const encMagic = "CBENC1\n"

var (
	errEncryptedNoKey = errors.New("document is encrypted but no encryption key is configured")
	errDecrypt        = errors.New("document could not be decrypted with the configured key")
	errNotObject      = errors.New("document is not a JSON object")
)

type codec struct {
	aead cipher.AEAD
}

func newCodec(secret string) (*codec, error) {
	if secret == "" {
		return &codec{}, nil
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte("clinicbook/store"), []byte("record-store v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive store key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init store cipher: %w", err)
	}
	return &codec{aead: aead}, nil
}

func (c *codec) encrypting() bool { return c.aead != nil }

func (c *codec) encode(snap model.Snapshot) ([]byte, error) {
	plain, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	if c.aead == nil {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encMagic)+len(nonce)+len(plain)+c.aead.Overhead())
	out = append(out, encMagic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plain, []byte(encMagic)), nil
}

// decode accepts both encrypted and plaintext documents, so enabling a key on
// an existing plaintext store migrates it on the next write.
func (c *codec) decode(raw []byte) (model.Snapshot, bool, error) {
	plain := raw
	encrypted := false
	if bytes.HasPrefix(raw, []byte(encMagic)) {
		if c.aead == nil {
			return model.Snapshot{}, true, errEncryptedNoKey
		}
		body := raw[len(encMagic):]
		if len(body) < c.aead.NonceSize() {
			return model.Snapshot{}, true, errDecrypt
		}
		nonce, sealed := body[:c.aead.NonceSize()], body[c.aead.NonceSize():]
		opened, err := c.aead.Open(nil, nonce, sealed, []byte(encMagic))
		if err != nil {
			return model.Snapshot{}, true, errDecrypt
		}
		plain = opened
		encrypted = true
	}

	trimmed := bytes.TrimSpace(plain)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.Snapshot{}, encrypted, errNotObject
	}
	var snap model.Snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return model.Snapshot{}, encrypted, err
	}
	snap.Normalize()
	return snap, encrypted, nil
}
