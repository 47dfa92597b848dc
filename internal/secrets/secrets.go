// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets encrypts credential tokens and OIDC client secrets at
// rest with AES-256-GCM. Values written before encryption was introduced
// are stored in cleartext; Decrypt returns those unchanged so they keep
// round-tripping until the next write re-encrypts them.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// prefix marks ciphertext produced by this package, so legacy cleartext
// rows are distinguishable from encrypted ones.
const prefix = "enc:v1:"

// Vault performs symmetric authenticated encryption with a key derived
// from the ENCRYPTION_KEY environment value.
type Vault struct {
	aead cipher.AEAD
}

// randRead is a variable so tests can pin the nonce.
var randRead = func(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}

// NewVault derives an AES-256 key from the url-safe base64 key material.
// A proper 32-byte key is used as-is after decoding; anything else is
// hashed to 32 bytes, which keeps short development keys working.
func NewVault(keyMaterial string) (*Vault, error) {
	if keyMaterial == "" {
		return nil, fmt.Errorf("empty encryption key")
	}
	block, err := aes.NewCipher(deriveKey(keyMaterial))
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

func deriveKey(material string) []byte {
	if decoded, err := base64.URLEncoding.DecodeString(material); err == nil && len(decoded) == 32 {
		return decoded
	}
	sum := sha256.Sum256([]byte(material))
	return sum[:]
}

// Encrypt seals plaintext and returns a self-describing string safe to
// store in a TEXT column.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if err := randRead(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the ciphertext
// prefix, or whose integrity check fails, are treated as legacy cleartext
// and returned unchanged.
func (v *Vault) Decrypt(stored string) string {
	raw, ok := strings.CutPrefix(stored, prefix)
	if !ok {
		return stored
	}
	sealed, err := base64.URLEncoding.DecodeString(raw)
	if err != nil || len(sealed) < v.aead.NonceSize() {
		return stored
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return stored
	}
	return string(plaintext)
}
