// Package safehash redacts identifiers while keeping them joinable under a fixed salt.
package safehash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const digestLength = 12

// Hash returns base64url(SHA256(salt || data)) truncated to 12 characters.
func Hash(data, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))[:digestLength]
}

// Hasher binds a salt so converters can redact without seeing it.
type Hasher struct {
	salt string
}

func NewHasher(salt string) Hasher {
	return Hasher{salt: salt}
}

func (h Hasher) Hash(data string) string {
	return Hash(data, h.salt)
}

// Salt exposes the bound salt for derived hashers.
func (h Hasher) Salt() string { return h.salt }

// Secrets holds process-wide secrets. They are loaded once and never rewritten.
type Secrets struct {
	// HashSalt is the process-wide salt for identifier redaction.
	HashSalt string
	// DeviceKey seeds derived device credentials.
	DeviceKey string
}

// LoadSecrets reads the secrets from dir, generating and persisting any that
// are missing.
func LoadSecrets(dir string) (Secrets, error) {
	salt, err := loadOrCreate(filepath.Join(dir, "koota-hash-salt"))
	if err != nil {
		return Secrets{}, err
	}
	key, err := loadOrCreate(filepath.Join(dir, "koota-device-key"))
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{HashSalt: salt, DeviceKey: key}, nil
}

func (s Secrets) Hasher() Hasher {
	return NewHasher(s.HashSalt)
}

func loadOrCreate(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		value := strings.TrimSpace(string(raw))
		if value == "" {
			return "", fmt.Errorf("secret file %s is empty", path)
		}
		return value, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	// O_EXCL: if another process won the race, use its value.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return loadOrCreate(path)
		}
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(value + "\n"); err != nil {
		return "", err
	}
	return value, nil
}
