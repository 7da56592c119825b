package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := Descriptor{
		TargetIP:        "10.0.0.5",
		TargetPort:      104,
		TargetAETTarget: "PACS",
		TargetAETSource: "HERMES",
		TargetName:      "pacs-main",
		SeriesUID:       "1.2.3",
	}
	require.NoError(t, Save(dir, d))

	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadMissingMandatoryKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target.json"), []byte(`{"target_ip":"10.0.0.1"}`), 0o644))

	_, err := Load(dir)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target.json"), []byte(`{not json`), 0o644))

	_, err := Load(dir)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValid(t *testing.T) {
	require.True(t, Descriptor{TargetIP: "a", TargetPort: 1, TargetAETTarget: "b"}.Valid())
	require.False(t, Descriptor{TargetPort: 1, TargetAETTarget: "b"}.Valid())
	require.False(t, Descriptor{TargetIP: "a", TargetAETTarget: "b"}.Valid())
	require.False(t, Descriptor{TargetIP: "a", TargetPort: 1}.Valid())
}

func TestSaveNoPartialFileOnRename(t *testing.T) {
	dir := t.TempDir()
	d := Descriptor{TargetIP: "10.0.0.5", TargetPort: 104, TargetAETTarget: "PACS"}
	require.NoError(t, Save(dir, d))

	// No leftover temp file after a successful save.
	_, err := os.Stat(filepath.Join(dir, "target.json.tmp"))
	require.True(t, os.IsNotExist(err))
}
