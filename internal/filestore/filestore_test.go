package filestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONThenReadJSONRoundTrips(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())

	path := store.Path(DirSession, "sample.json")
	in := sample{Name: "alpha", Count: 3}
	require.NoError(t, store.WriteJSON(path, in))

	var out sample
	ok, err := store.ReadJSON(path, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, in, out)
}

func TestReadJSONMissingFileReturnsFalseNotError(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	var out sample
	ok, err := store.ReadJSON(filepath.Join(store.Root(), "missing.json"), &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteJSONLeavesNoTmpFileBehind(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	path := store.Path(DirSession, "sample.json")
	require.NoError(t, store.WriteJSON(path, sample{Name: "a"}))
	assert.False(t, store.Exists(path+".tmp"))
	assert.True(t, store.Exists(path))
}

func TestChecksumIsDeterministicAcrossFieldOrderAndFormatting(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}

	sumA, err := Checksum(a)
	require.NoError(t, err)
	sumB, err := Checksum(b)
	require.NoError(t, err)
	assert.Equal(t, sumA, sumB)
}

func TestStripFieldRemovesOnlyNamedField(t *testing.T) {
	raw := []byte(`{"checksum":"deadbeef","name":"alpha","count":3}`)
	stripped, err := StripField(raw, "checksum")
	require.NoError(t, err)
	assert.NotContains(t, string(stripped), "checksum")
	assert.Contains(t, string(stripped), "alpha")
}

func TestStripFieldThenHashMatchesChecksumComputedWithoutField(t *testing.T) {
	withChecksum := map[string]any{"checksum": "", "name": "alpha", "count": 3}
	raw, err := CanonicalJSON(withChecksum, false)
	require.NoError(t, err)

	stripped, err := StripField(raw, "checksum")
	require.NoError(t, err)
	gotSum := ChecksumBytes(stripped)

	withoutField := map[string]any{"name": "alpha", "count": 3}
	wantSum, err := Checksum(withoutField)
	require.NoError(t, err)

	assert.Equal(t, wantSum, gotSum)
}

func TestParseEpochFromNameExtractsLargestEmbeddedTimestamp(t *testing.T) {
	epoch, ok := ParseEpochFromName("snapshot-commit-1700000000000-ab12cd34.json")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), epoch)
}

func TestParseEpochFromNameNoTimestampFound(t *testing.T) {
	_, ok := ParseEpochFromName("latest.json")
	assert.False(t, ok)
}

func TestListDirReturnsFilesSortedExcludingDirectories(t *testing.T) {
	store := New(t.TempDir(), "conv-1", Options{}, nil)
	require.NoError(t, store.EnsureDirs())
	require.NoError(t, store.WriteJSON(store.Path(DirArchives, "b.json"), sample{Name: "b"}))
	require.NoError(t, store.WriteJSON(store.Path(DirArchives, "a.json"), sample{Name: "a"}))

	names, err := store.ListDir(store.Path(DirArchives))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)
}
