package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/merra2-cli/internal/model"
)

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestLoad_TrimsAndDropsBlankLines(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "Site_A.txt", []byte("  https://h/a.nc4 \r\n\n\t\nhttps://h/README.pdf\n"))

	got, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, []model.ManifestEntry{
		{SourceURL: "https://h/a.nc4", Group: "Site_A"},
		{SourceURL: "https://h/README.pdf", Group: "Site_A"},
	}, got)
}

func TestLoad_UTF8BOM(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "g.txt", append([]byte{0xEF, 0xBB, 0xBF}, []byte("https://h/a.nc4\n")...))

	got, err := Load(p)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://h/a.nc4", got[0].SourceURL)
}

func TestLoad_UTF16LE(t *testing.T) {
	dir := t.TempDir()
	// "u\n" with a little-endian BOM.
	data := []byte{0xFF, 0xFE, 'u', 0, '\n', 0}
	p := write(t, dir, "g.txt", data)

	got, err := Load(p)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u", got[0].SourceURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestGroupName_NFC(t *testing.T) {
	// "São" in decomposed form.
	assert.Equal(t, "S\u00e3o", GroupName("/x/Sa\u0303o.txt"))
	assert.Equal(t, "plain", GroupName("plain.txt"))
}

func TestLoadDir_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b.txt", []byte("https://h/b1.nc4\n"))
	write(t, dir, "a.txt", []byte("https://h/a1.nc4\nhttps://h/a2.nc4\n"))
	write(t, dir, "notes.md", []byte("ignored\n"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755))

	got, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Group)
	assert.Equal(t, "https://h/a2.nc4", got[1].SourceURL)
	assert.Equal(t, "b", got[2].Group)
}

func TestLoadDir_NoManifests(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "notes.md", []byte("x"))

	_, err := LoadDir(dir)
	assert.ErrorIs(t, err, ErrNoManifests)
}

func TestLoadDir_EmptyManifestYieldsNoEntries(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "empty.txt", []byte("\n  \n"))

	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	got, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, got)

	warned := logs.FilterMessage("manifest lists no URLs, group skipped").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "empty", warned[0].ContextMap()["group"])
}

func TestGroups_FirstSeenOrder(t *testing.T) {
	entries := []model.ManifestEntry{
		{SourceURL: "1", Group: "z"},
		{SourceURL: "2", Group: "a"},
		{SourceURL: "3", Group: "z"},
	}
	got := Groups(entries)
	require.Len(t, got, 2)
	assert.Equal(t, "z", got[0].Name)
	assert.Len(t, got[0].Entries, 2)
	assert.Equal(t, "3", got[0].Entries[1].SourceURL)
	assert.Equal(t, "a", got[1].Name)
}
