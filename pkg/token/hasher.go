// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// MinHasherKeyLength is the shortest accepted HMAC key.
const MinHasherKeyLength = 32

// Hasher derives the at-rest fingerprint of token and ticket secrets.
//
// Fingerprints are HMAC-SHA256 of the secret under a server-side key. A
// copy of the backing store alone is therefore not enough to present a
// valid credential, nor to check guesses offline.
type Hasher struct {
	key []byte
}

// NewHasher creates a Hasher from key.
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) < MinHasherKeyLength {
		return nil, errors.New("token hashing key must be at least 32 bytes")
	}
	return &Hasher{key: append([]byte(nil), key...)}, nil
}

// Fingerprint returns the hex encoded HMAC of secret.
func (h *Hasher) Fingerprint(secret string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares secret against a stored fingerprint in constant time.
func (h *Hasher) Verify(secret, fingerprint string) bool {
	want, err := hex.DecodeString(fingerprint)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return hmac.Equal(mac.Sum(nil), want)
}

// DeriveSecret returns a secret determined by key. It lets the issuer
// hand out an existing delegated token again without keeping its secret.
func (h *Hasher) DeriveSecret(key string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte("derived-secret:" + key))
	return encoding.EncodeToString(mac.Sum(nil)[:secretBytes])
}

