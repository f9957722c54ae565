// Copyright 2026 fanjia1024

package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s, err := NewStore(Config{})
	require.NoError(t, err)
	assert.IsType(t, &envStore{}, s)

	s, err = NewStore(Config{Provider: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(Config{Provider: "k8s"})
	assert.Error(t, err)
}

func TestEnvStore(t *testing.T) {
	t.Setenv("EXECUTOR_TOKEN", "tok")
	s := NewEnvStore()
	v, err := s.Get(context.Background(), "executor/token")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	_, err = s.Get(context.Background(), "missing.key")
	assert.ErrorContains(t, err, "MISSING_KEY")
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(map[string]string{"journal/dsn": "postgres://x"})

	v, err := Resolve(ctx, store, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	v, err = Resolve(ctx, store, "secret://journal/dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", v)

	_, err = Resolve(ctx, store, "secret://nope")
	assert.Error(t, err)
	_, err = Resolve(ctx, store, "secret://")
	assert.Error(t, err)

	store.Set("nope", "now")
	v, err = Resolve(ctx, store, "secret://nope")
	require.NoError(t, err)
	assert.Equal(t, "now", v)
}

func TestSecretValue(t *testing.T) {
	v, err := secretValue("k", map[string]interface{}{"value": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = secretValue("k", map[string]interface{}{"data": map[string]interface{}{"value": "b"}, "metadata": map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = secretValue("k", map[string]interface{}{"n": 1})
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "executor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "executor", "token"), []byte("tok\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "journal.dsn"), []byte("postgres://x"), 0o600))

	s, err := NewStore(Config{Provider: "file", File: FileConfig{Dir: dir}})
	require.NoError(t, err)

	v, err := s.Get(context.Background(), "executor/token")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	v, err = s.Get(context.Background(), "journal/dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", v)

	_, err = s.Get(context.Background(), "missing")
	assert.Error(t, err)
	_, err = s.Get(context.Background(), "../etc/passwd")
	assert.Error(t, err)

	_, err = NewFileStore(FileConfig{Dir: filepath.Join(dir, "nope")})
	assert.Error(t, err)
}
