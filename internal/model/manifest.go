// Package model defines the records that flow between the download, extraction,
// aggregation and export phases.
package model

// ManifestEntry is one URL listed in a manifest, bound to the group named after
// the manifest file.
type ManifestEntry struct {
	SourceURL string `json:"source_url" yaml:"source_url"`
	Group     string `json:"group" yaml:"group"`
}
