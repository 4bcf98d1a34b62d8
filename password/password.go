// Package password hashes and verifies user passwords. A stored hash
// is the two-character salt followed by the hex digest of
// PBKDF2-SHA256(password, salt); the salt alphabet is the classic
// crypt(3) set `./0-9A-Za-z`.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLen is the number of salt characters prefixed to a stored hash.
	SaltLen = 2

	iterations = 4096
	keyLen     = 32
)

const saltAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var errBadSalt = errors.New("password: salt must be 2 characters from ./0-9A-Za-z")

func validSalt(salt string) bool {
	if len(salt) != SaltLen {
		return false
	}
	for i := 0; i < SaltLen; i++ {
		ok := false
		for j := 0; j < len(saltAlphabet); j++ {
			if salt[i] == saltAlphabet[j] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// NewSalt draws a uniformly random 2-character salt. The alphabet has
// exactly 64 characters, so reducing a random byte modulo 64 carries
// no bias.
func NewSalt() (string, error) {
	var b [SaltLen]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("password: reading random salt: %w", err)
	}
	return string([]byte{
		saltAlphabet[b[0]%64],
		saltAlphabet[b[1]%64],
	}), nil
}

// Hash derives the stored form of psw. If salt is empty a fresh random
// salt is generated; otherwise salt must be a 2-character string from
// the salt alphabet, as when re-deriving during verification.
func Hash(psw, salt string) (string, error) {
	if salt == "" {
		var err error
		if salt, err = NewSalt(); err != nil {
			return "", err
		}
	} else if !validSalt(salt) {
		return "", errBadSalt
	}
	key := pbkdf2.Key([]byte(psw), []byte(salt), iterations, keyLen, sha256.New)
	return salt + hex.EncodeToString(key), nil
}

// Verify reports whether psw matches the stored hash. The comparison
// is constant time in the hash bytes.
func Verify(psw, stored string) bool {
	if len(stored) < SaltLen {
		return false
	}
	derived, err := Hash(psw, stored[:SaltLen])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(stored)) == 1
}
