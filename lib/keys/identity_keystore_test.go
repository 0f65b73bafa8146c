package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-i2p/go-activecard/lib/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateGeneratesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "identity.yaml")

	created, err := LoadOrCreate(path, "card-1")
	require.NoError(t, err)
	assert.Equal(t, "card-1", created.KeyID())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreate(path, "ignored")
	require.NoError(t, err)
	assert.Equal(t, created.KeyPair(), loaded.KeyPair())
	assert.Equal(t, "card-1", loaded.KeyID())

	pub, priv, err := loaded.GetKeys()
	require.NoError(t, err)
	var s signer.ECDSA
	sig, err := s.Sign(priv, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, s.Verify(pub, []byte("hello"), sig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsMismatchedKeys(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadOrCreate(filepath.Join(dir, "a.yaml"), "a")
	require.NoError(t, err)
	b, err := LoadOrCreate(filepath.Join(dir, "b.yaml"), "b")
	require.NoError(t, err)

	mixed := &IdentityKeystore{
		path:     filepath.Join(dir, "mixed.yaml"),
		deviceID: "mixed",
		pair:     signer.KeyPair{Private: a.KeyPair().Private, Public: b.KeyPair().Public},
	}
	require.NoError(t, mixed.StoreKeys())

	_, err = Load(mixed.Path())
	assert.ErrorIs(t, err, ErrCorruptIdentity)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("private_key: \"!!notbase64\"\n"), 0o600))
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrCorruptIdentity)
}

func TestKeyIDFallsBackToFingerprint(t *testing.T) {
	ks, err := LoadOrCreate(filepath.Join(t.TempDir(), "id.yaml"), "")
	require.NoError(t, err)
	assert.Len(t, ks.KeyID(), 16)
	assert.Equal(t, Fingerprint(ks.KeyPair().Public), ks.KeyID())
}

func TestLoadRestrictsReadableIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	_, err := LoadOrCreate(path, "card")
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0o644))

	_, err = Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
