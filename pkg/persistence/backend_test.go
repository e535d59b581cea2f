package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackends(t *testing.T) {
	tests := []struct {
		name string
		kind BackendKind
		path string
	}{
		{name: "badger", kind: BackendBadger, path: "badger"},
		{name: "sqlite", kind: BackendSQLite, path: "store.db"},
		{name: "file", kind: BackendFile, path: "files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := OpenBackend(OpenOptions{Kind: tt.kind, Path: filepath.Join(t.TempDir(), tt.path)})
			require.NoError(t, err)
			defer b.Close()

			_, err = b.Get("missing")
			assert.ErrorIs(t, err, ErrNotExists)

			require.NoError(t, b.Set("bots_cache", []byte(`[]`)))
			require.NoError(t, b.Set("cache:/get_bg/abc", []byte(`{"timestamp":1}`)))
			require.NoError(t, b.Set("cache:/get_chatIcon/abc", []byte(`{"timestamp":2}`)))
			require.NoError(t, b.Set("bots_cache", []byte(`[{"code":"abc"}]`)))

			v, err := b.Get("bots_cache")
			require.NoError(t, err)
			assert.Equal(t, `[{"code":"abc"}]`, string(v))

			cached, err := b.Entries(CachePrefix)
			require.NoError(t, err)
			assert.Len(t, cached, 2)
			assert.Contains(t, cached, "cache:/get_bg/abc")

			all, err := b.Entries("")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, b.Delete("cache:/get_bg/abc"))
			require.NoError(t, b.Delete("cache:/get_bg/abc"))
			_, err = b.Get("cache:/get_bg/abc")
			assert.ErrorIs(t, err, ErrNotExists)
		})
	}
}

func TestOpenBackendRejectsUnknownKind(t *testing.T) {
	_, err := OpenBackend(OpenOptions{Kind: "redis", Path: t.TempDir()})
	assert.Error(t, err)

	_, err = OpenBackend(OpenOptions{Kind: BackendFile})
	assert.Error(t, err)
}

func TestBadgerEncrypted(t *testing.T) {
	key, err := ParseKey("0x" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff")
	require.NoError(t, err)
	require.Len(t, key, 32)

	dir := filepath.Join(t.TempDir(), "enc")
	b, err := OpenBadger(BadgerOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, b.Set("backend_url", []byte(`"https://api.example.com"`)))
	require.NoError(t, b.Close())

	b, err = OpenBadger(BadgerOptions{Path: dir, EncryptionKey: key})
	require.NoError(t, err)
	defer b.Close()
	v, err := b.Get("backend_url")
	require.NoError(t, err)
	assert.Equal(t, `"https://api.example.com"`, string(v))
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	assert.NoError(t, err)
	assert.Nil(t, k)

	_, err = ParseKey("abcd")
	assert.Error(t, err)

	_, err = ParseKey("not a key!!")
	assert.Error(t, err)
}

func TestFileBackendWatch(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)

	w, err := b.Watch()
	require.NoError(t, err)
	defer w.Stop()

	// 另一个进程写入同一目录
	other, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, other.Set("deleted_bot_codes", []byte(`["abc"]`)))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case key := <-w.Events():
			if key == "deleted_bot_codes" {
				return
			}
		case <-deadline:
			t.Fatal("no watch event for deleted_bot_codes")
		}
	}
}
