package filestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voiceid/internal/config"
)

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

func newLocal(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": dir},
	})
	require.NoError(t, err)
	return st, dir
}

func TestLocalSaveAndOpen(t *testing.T) {
	st, dir := newLocal(t)
	payload := []byte(`{"speakers":{}}`)
	err := st.Save(context.Background(), "library.json",
		readSeekNopCloser{bytes.NewReader(payload)}, int64(len(payload)))
	require.NoError(t, err)

	rc, err := st.Open(context.Background(), "library.json")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "library.json", entries[0].Name())
}

func TestLocalSaveOverwrites(t *testing.T) {
	st, dir := newLocal(t)
	for _, payload := range []string{"first", "second"} {
		err := st.Save(context.Background(), "library.json",
			readSeekNopCloser{bytes.NewReader([]byte(payload))}, int64(len(payload)))
		require.NoError(t, err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "library.json"))
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestLocalRejectsPathKeys(t *testing.T) {
	st, _ := newLocal(t)
	for _, key := range []string{"", "../escape.json", `a\b`} {
		err := st.Save(context.Background(), key, readSeekNopCloser{bytes.NewReader(nil)}, 0)
		require.Error(t, err, key)
	}
	_, err := st.Open(context.Background(), "sub/lib.json")
	require.Error(t, err)
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{})
	require.Error(t, err)
}

func TestLocalRequiresDir(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{}})
	require.Error(t, err)
}
