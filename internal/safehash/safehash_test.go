package safehash

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMatchesDefinition(t *testing.T) {
	sum := sha256.Sum256([]byte("salt" + "0401234567"))
	want := base64.URLEncoding.EncodeToString(sum[:])[:12]
	assert.Equal(t, want, Hash("0401234567", "salt"))
}

func TestHashDeterministicPerSalt(t *testing.T) {
	a := Hash("aa:bb:cc:dd:ee:ff", "s1")
	assert.Equal(t, a, Hash("aa:bb:cc:dd:ee:ff", "s1"))
	assert.NotEqual(t, a, Hash("aa:bb:cc:dd:ee:ff", "s2"))
	assert.Len(t, a, 12)

	h := NewHasher("s1")
	assert.Equal(t, a, h.Hash("aa:bb:cc:dd:ee:ff"))
}

func TestLoadSecretsPersists(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadSecrets(dir)
	require.NoError(t, err)
	assert.Len(t, first.HashSalt, 64)
	assert.NotEqual(t, first.HashSalt, first.DeviceKey)

	second, err := LoadSecrets(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	raw, err := os.ReadFile(filepath.Join(dir, "koota-hash-salt"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), first.HashSalt)
}

func TestLoadSecretsRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "koota-hash-salt"), []byte("\n"), 0o600))
	_, err := LoadSecrets(dir)
	assert.Error(t, err)
}
