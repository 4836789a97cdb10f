// Package catalogue is the external collaborator of spec.md §4.6: a
// read-only lookup from component name to its Definition. The actual
// catalogue parsing (YAML files, build-system autodetection heuristics)
// is deliberately minimal here — spec.md §1 scopes the full loader as an
// external collaborator — but the types and the Store interface the core
// consumes are specified precisely, and this package ships a real
// yaml.v2-backed loader (grounded on the teacher's own
// yaml.Unmarshal(hdr, &spec) usage) so the module runs end-to-end.
package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/strata-build/strata/internal/buildererr"
)

// Kind is one of the four component kinds of spec.md §3.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindStratum  Kind = "stratum"
	KindSystem   Kind = "system"
	KindCluster  Kind = "cluster"
)

// BuildMode selects whether a component builds inside a chroot (staging)
// or against the host toolchain directly (bootstrap).
type BuildMode string

const (
	ModeStaging   BuildMode = "staging"
	ModeBootstrap BuildMode = "bootstrap"
)

// SystemRef is a cluster's reference to one system component.
type SystemRef struct {
	Path       string   `yaml:"path"`
	Subsystems []string `yaml:"subsystems,omitempty"`
}

// Definition is the keyed record of spec.md §3. CommandLists holds every
// per-step command list present on the definition (configure-commands,
// build-commands, install-commands, and any other step name declared by
// the recipe library), keyed by step name, so the cache key engine can
// fold them in verbatim without this package needing to know the full
// canonical step sequence (that list lives with the recipe library, an
// external collaborator per spec.md §4.6).
type Definition struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`

	Repo string `yaml:"repo,omitempty"`
	Ref  string `yaml:"ref,omitempty"`
	Tree string `yaml:"tree,omitempty"`

	BuildDepends []string `yaml:"build-depends,omitempty"`
	Contents     []string `yaml:"contents,omitempty"`
	Systems      []SystemRef `yaml:"systems,omitempty"`

	BuildSystem string    `yaml:"build-system,omitempty"`
	BuildMode   BuildMode `yaml:"build-mode,omitempty"`
	Arch        string    `yaml:"arch,omitempty"`

	CommandLists map[string][]string `yaml:"-"`

	// Cache is memoised once computed; it is set only by
	// internal/cachekey (spec.md §3 invariant: "once cache is set on a
	// definition, it never changes within a run"). The scheduler reads it
	// for the artifact key, the claim lock path and the build-log path,
	// and the metadata writer records it in the manifest.
	Cache string `yaml:"cache,omitempty"`

	// Runtime paths, assigned by the scheduler before invoking the
	// sandbox builder (spec.md §3).
	Sandbox  string `yaml:"-"`
	Build    string `yaml:"-"`
	Install  string `yaml:"-"`
	Assembly string `yaml:"-"`
	Log      string `yaml:"-"`
}

// rawDefinition lets the YAML loader capture arbitrary step-named command
// lists alongside the typed fields above, via an inline map.
type rawDefinition struct {
	Definition `yaml:",inline"`
	Extra      map[string]interface{} `yaml:",inline"`
}

// knownSteps is the canonical step sequence the recipe library defines by
// default (spec.md §4.4 "Recipe resolution"); catalogue has no opinion on
// build-system autodetection itself, it only needs to know which document
// keys are "command lists" versus typed metadata fields.
var knownSteps = map[string]bool{
	"configure-commands": true,
	"build-commands":     true,
	"install-commands":   true,
	"strip-commands":     true,
	"check-commands":     true,
}

// Store is the collaborator interface of spec.md §4.6.
type Store interface {
	Get(name string) (*Definition, bool)
	Names() []string
}

// memStore is an in-memory, read-only Store loaded once from a directory
// of "<name>.yaml" files.
type memStore struct {
	defs map[string]*Definition
}

// LoadDir reads every "*.yaml" / "*.yml" file in dir as one Definition,
// keyed by its declared name (falling back to the file's base name).
func LoadDir(dir string) (Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	defs := make(map[string]*Definition, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		def, err := parseDefinition(buf)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(e.Name(), ext)
		}
		defs[def.Name] = def
	}
	return &memStore{defs: defs}, nil
}

func parseDefinition(buf []byte) (*Definition, error) {
	var raw rawDefinition
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, err
	}
	def := raw.Definition
	def.CommandLists = make(map[string][]string)
	for key, value := range raw.Extra {
		if !knownSteps[key] {
			continue
		}
		cmds, err := normaliseCommandList(value)
		if err != nil {
			return nil, fmt.Errorf("command list %q: %w", key, err)
		}
		def.CommandLists[key] = cmds
	}
	return &def, nil
}

// normaliseCommandList implements spec.md §9's "Command lists of
// booleans" Design Note: literal true/false entries become the shell
// builtins of the same name at load time, so nothing downstream ever has
// to special-case a non-string command.
func normaliseCommandList(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch t := it.(type) {
		case string:
			out = append(out, t)
		case bool:
			if t {
				out = append(out, "true")
			} else {
				out = append(out, "false")
			}
		default:
			return nil, fmt.Errorf("unsupported command list entry %v (%T)", it, it)
		}
	}
	return out, nil
}

func (s *memStore) Get(name string) (*Definition, bool) {
	d, ok := s.defs[name]
	return d, ok
}

func (s *memStore) Names() []string {
	names := make([]string, 0, len(s.defs))
	for n := range s.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MustGet is a convenience for call sites that have already validated
// name exists (e.g. having come from another definition's own
// build-depends/contents list, themselves checked against the store).
func MustGet(s Store, name string) (*Definition, error) {
	d, ok := s.Get(name)
	if !ok {
		return nil, &buildererr.DefinitionMissing{Name: name}
	}
	return d, nil
}
