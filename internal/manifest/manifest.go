// Package manifest reads the per-group URL lists that drive a download run.
package manifest

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/merra2-cli/internal/model"
)

// Ext is the manifest file extension.
const Ext = ".txt"

// ErrNoManifests is returned by LoadDir when the directory holds no manifest.
var ErrNoManifests = eris.New("manifest: no manifest files found")

// GroupName returns the group a manifest file defines: its NFC-normalised stem.
func GroupName(path string) string {
	base := filepath.Base(path)
	return norm.NFC.String(strings.TrimSuffix(base, filepath.Ext(base)))
}

// LoadDir reads every *.txt file in dir, in file name order. A file that
// cannot be read is logged and skipped.
func LoadDir(dir string) ([]model.ManifestEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read dir %s", dir)
	}

	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), Ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, de.Name()))
	}
	if len(paths) == 0 {
		return nil, eris.Wrapf(ErrNoManifests, "manifest: %s", dir)
	}
	sort.Strings(paths)

	log := zap.L().With(zap.String("component", "manifest.loader"))

	var entries []model.ManifestEntry
	for _, p := range paths {
		got, err := Load(p)
		if err != nil {
			log.Warn("skipping unreadable manifest", zap.String("path", p), zap.Error(err))
			continue
		}
		if len(got) == 0 {
			log.Warn("manifest lists no URLs, group skipped", zap.String("path", p), zap.String("group", GroupName(p)))
			continue
		}
		log.Debug("manifest loaded", zap.String("path", p), zap.Int("urls", len(got)))
		entries = append(entries, got...)
	}
	return entries, nil
}

// Load reads a single manifest. Lines are trimmed and blank lines dropped; a
// UTF-8 or UTF-16 byte order mark is honoured.
func Load(path string) ([]model.ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	group := GroupName(path)
	r := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	var entries []model.ManifestEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		entries = append(entries, model.ManifestEntry{SourceURL: line, Group: group})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "manifest: scan %s", path)
	}
	return entries, nil
}

// Group is the URLs of one group in manifest order.
type Group struct {
	Name    string
	Entries []model.ManifestEntry
}

// Groups partitions entries by group, keeping first-seen order of both the
// groups and the entries within each.
func Groups(entries []model.ManifestEntry) []Group {
	idx := make(map[string]int)
	var out []Group
	for _, e := range entries {
		i, ok := idx[e.Group]
		if !ok {
			i = len(out)
			idx[e.Group] = i
			out = append(out, Group{Name: e.Group})
		}
		out[i].Entries = append(out[i].Entries, e)
	}
	return out
}
