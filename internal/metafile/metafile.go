// Package metafile writes the small per-component manifest the
// scheduler emits alongside a packaged artifact (SPEC_FULL.md §C.3):
// enough for downstream tooling to stage artifacts without re-deriving
// the source tree, without taking on the full splitting/metadata
// machinery spec.md §1 scopes out.
package metafile

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/strata-build/strata/internal/catalogue"
)

// Manifest is the minimal record written for a built component: name,
// kind, cache key, and the names its definition lists under contents,
// sorted.
type Manifest struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Cache    string   `json:"cache"`
	Contents []string `json:"contents,omitempty"`
}

// Writer is the scheduler's MetadataWriter collaborator (spec.md treats
// metadata emission as out of scope; the scheduler still needs a hook to
// call, per SPEC_FULL.md §C.3). Writer writes a ".meta" JSON file next to
// the packaged artifact.
type Writer struct {
	Dir string
}

func New(dir string) *Writer {
	return &Writer{Dir: dir}
}

// WriteChunkMeta writes the manifest for a chunk-kind component.
func (w *Writer) WriteChunkMeta(def *catalogue.Definition) error {
	return w.write(def)
}

// WriteStratumMeta writes the manifest for a stratum-kind component,
// whose Contents names its constituent chunks rather than files.
func (w *Writer) WriteStratumMeta(def *catalogue.Definition) error {
	return w.write(def)
}

func (w *Writer) write(def *catalogue.Definition) error {
	if w == nil || w.Dir == "" {
		return nil
	}
	contents := append([]string(nil), def.Contents...)
	sort.Strings(contents)

	m := Manifest{
		Name:     def.Name,
		Kind:     string(def.Kind),
		Cache:    def.Cache,
		Contents: contents,
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := w.Dir + "/" + def.Cache + ".meta"
	return os.WriteFile(path, buf, 0o644)
}

// NoopWriter satisfies the MetadataWriter interface while discarding
// every write, for callers that don't want metadata emission (e.g.
// dry-run cache-key-only invocations).
type NoopWriter struct{}

func (NoopWriter) WriteChunkMeta(*catalogue.Definition) error   { return nil }
func (NoopWriter) WriteStratumMeta(*catalogue.Definition) error { return nil }
