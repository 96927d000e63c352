// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package record

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Salt matches the teacher's client/server pre-shared-secret
// derivation exactly (SALT = "kcp-go", 4096 iterations, SHA-1, 32-byte
// key) so a recording's at-rest protection uses the same KDF the
// corpus already trusts for its tunnel secret.
const pbkdf2Salt = "kcp-go"

const pbkdf2Iterations = 4096

// ErrShortCiphertext is returned by unseal when the input is too small
// to contain even a nonce.
var ErrShortCiphertext = errors.New("record: ciphertext shorter than nonce")

// sealer wraps an AES-256-GCM cipher.AEAD keyed from a passphrase. A
// nil sealer means recordings are stored in the clear (spec's
// zero-value-disables convention).
type sealer struct {
	aead cipher.AEAD
}

// newSealer derives a key from passphrase and builds an AES-256-GCM
// sealer. An empty passphrase disables sealing entirely.
func newSealer(passphrase string) (*sealer, error) {
	if passphrase == "" {
		return nil, nil
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(pbkdf2Salt), pbkdf2Iterations, 32, sha1.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts plaintext with a fresh random nonce, returning
// nonce||ciphertext||tag. One nonce is drawn per entry (spec.md
// §4.C7), never reused across calls.
func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// unseal reverses seal, splitting the leading nonce back off.
func (s *sealer) unseal(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrShortCiphertext
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}
