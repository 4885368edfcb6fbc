package dedup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "unique_hosts.txt")

	require.NoError(t, WriteHosts(path, []string{"a.com", "c.com", "b.a.com"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a.com\nc.com\nb.a.com\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should not be left behind")
}

func TestWriteHosts_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unique_hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("stale.com\nold.org\n"), 0o644))

	require.NoError(t, WriteHosts(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadHosts(t *testing.T) {
	hosts, err := ReadHosts(strings.NewReader("a.com\n\n  b.org \r\nc.net"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.org", "c.net"}, hosts)
}

func TestReadHostsFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	want := []string{"x.com", "x.org"}
	require.NoError(t, WriteHosts(path, want))

	got, err := ReadHostsFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ReadHostsFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
