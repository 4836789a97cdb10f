// Package store implements the artifact store of spec.md §4.3: put/get
// compressed artifact archives keyed by cache key, idempotent unpack, and
// a best-effort remote pull collaborator.
package store

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"

	"github.com/strata-build/strata/internal/buildererr"
	"github.com/strata-build/strata/internal/fstree"
	"github.com/strata-build/strata/internal/logging"
)

var log = logging.New("store")

// Store is backed by a directory of "<key>.tar.gz" blobs plus their
// "<key>.build-log" companions and "<key>.tar.gz.unpacked/" directories
// (spec.md §6 Filesystem layout).
type Store struct {
	ArtifactsDir string
	KBASURL      string

	httpClient *http.Client
}

// New returns a Store rooted at artifactsDir, creating it if necessary.
func New(artifactsDir, kbasURL string) (*Store, error) {
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, &buildererr.StorageError{Op: "mkdir", Key: artifactsDir, Err: err}
	}
	return &Store{ArtifactsDir: artifactsDir, KBASURL: kbasURL, httpClient: http.DefaultClient}, nil
}

func (s *Store) blobPath(key string) string   { return filepath.Join(s.ArtifactsDir, key+".tar.gz") }
func (s *Store) logPath(key string) string    { return filepath.Join(s.ArtifactsDir, key+".build-log") }
func (s *Store) unpackDir(key string) string  { return s.blobPath(key) + ".unpacked" }

// Get returns the path to the artifact blob for key, if present locally.
func (s *Store) Get(key string) (string, bool) {
	path := s.blobPath(key)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "", false
}

// LogPath returns the path build.go appends command output to
// (spec.md §4.5 "Logging").
func (s *Store) LogPath(key string) string { return s.logPath(key) }

// PackageInput describes what Put should archive for one component.
type PackageInput struct {
	Key string
	// Root is the directory whose contents become the archive root:
	// the install subtree for ordinary components, the full assembly
	// subtree for systems (spec.md §4.3, §6 Archive format).
	Root string
	// System marks this as a whole-system artifact: mtimes are NOT
	// normalised (spec.md §4.3 "before packaging a non-system
	// artifact...").
	System bool
}

// Put packages in.Root as a gzipped tar named "<key>.tar.gz".
func (s *Store) Put(in PackageInput) error {
	if !in.System {
		if err := fstree.SetMtimeRecursively(in.Root, fstree.MagicTimestamp); err != nil {
			return &buildererr.StorageError{Op: "normalise-mtime", Key: in.Key, Err: err}
		}
	}

	dest := s.blobPath(in.Key)
	tmp := dest + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return &buildererr.StorageError{Op: "create", Key: in.Key, Err: err}
	}
	defer os.Remove(tmp)

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := walkDeterministic(in.Root, tw); err != nil {
		f.Close()
		return &buildererr.StorageError{Op: "archive", Key: in.Key, Err: err}
	}

	if err := tw.Close(); err != nil {
		f.Close()
		return &buildererr.StorageError{Op: "archive-close", Key: in.Key, Err: err}
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return &buildererr.StorageError{Op: "gzip-close", Key: in.Key, Err: err}
	}
	if err := f.Close(); err != nil {
		return &buildererr.StorageError{Op: "close", Key: in.Key, Err: err}
	}

	if err := os.Rename(tmp, dest); err != nil {
		return &buildererr.StorageError{Op: "rename", Key: in.Key, Err: err}
	}
	log.Infof("now cached as %s\n", in.Key)
	return nil
}

// walkDeterministic writes root's contents into tw in a fixed, sorted
// order, so that byte-identical inputs produce byte-identical archives
// (spec.md §8 property 3: "the uncompressed tarballs are byte-identical
// ... order of entries under a canonical walk").
func walkDeterministic(root string, tw *tar.Writer) error {
	var walk func(dir, archiveDir string) error
	walk = func(dir, archiveDir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			full := filepath.Join(dir, name)
			archivePath := name
			if archiveDir != "" {
				archivePath = archiveDir + "/" + name
			}

			info, err := os.Lstat(full)
			if err != nil {
				return err
			}

			link := ""
			if info.Mode()&os.ModeSymlink != 0 {
				link, err = os.Readlink(full)
				if err != nil {
					return err
				}
			}

			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			hdr.Name = archivePath

			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}

			if info.Mode().IsRegular() {
				f, err := os.Open(full)
				if err != nil {
					return err
				}
				_, err = io.Copy(tw, f)
				f.Close()
				if err != nil {
					return err
				}
			} else if info.IsDir() {
				if err := walk(full, archivePath); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(root, "")
}

// Unpack ensures the blob for key is extracted to
// "<key>.tar.gz.unpacked/" exactly once, returning its path. Directory
// creation is observed atomically by creating a hidden staging directory
// and renaming it into place only once fully populated, so a concurrent
// reader never sees a partially-extracted tree (spec.md §4.3, §8
// property 4).
func (s *Store) Unpack(key string) (string, error) {
	dir := s.unpackDir(key)
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}

	path, ok := s.Get(key)
	if !ok {
		return "", &buildererr.StorageError{Op: "unpack", Key: key, Err: fmt.Errorf("no cached artifact")}
	}

	staging := dir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return "", &buildererr.StorageError{Op: "unpack", Key: key, Err: err}
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", &buildererr.StorageError{Op: "unpack", Key: key, Err: err}
	}

	// Shelling to tar mirrors the original implementation
	// (call(['tar', 'xf', cachefile, '--directory', unpackdir])) and
	// correctly restores every archive member type archive/tar would
	// otherwise require bespoke extraction code for.
	cmd := exec.Command("tar", "xf", path, "--directory", staging)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", &buildererr.StorageError{Op: "unpack", Key: key, Err: fmt.Errorf("%w: %s", err, out)}
	}

	if err := os.Rename(staging, dir); err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			// Another worker won the race and already has it unpacked.
			os.RemoveAll(staging)
			return dir, nil
		}
		return "", &buildererr.StorageError{Op: "unpack", Key: key, Err: err}
	}
	return dir, nil
}

// GetRemote attempts to pull an artifact for key from the configured KBAS
// URL. Per spec.md §9 Open Questions, the remote store's write side is
// unspecified anywhere in the available sources; only the read path is
// implemented.
func (s *Store) GetRemote(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	if s.KBASURL == "" {
		return nil, false, nil
	}
	url := s.KBASURL + key + ".tar.gz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warnf("remote store unreachable for %s: %v\n", key, err)
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, false, nil
	}
	return resp.Body, true, nil
}

// PullRemote fetches key from the remote store, if configured, and
// persists it atomically into the local artifact store, so a subsequent
// Get(key) succeeds. Returns false if no remote is configured or the
// remote does not have the key.
func (s *Store) PullRemote(ctx context.Context, key string) (bool, error) {
	body, ok, err := s.GetRemote(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	defer body.Close()

	dest := s.blobPath(key)
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return false, &buildererr.StorageError{Op: "remote-save", Key: key, Err: err}
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return false, &buildererr.StorageError{Op: "remote-save", Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return false, &buildererr.StorageError{Op: "remote-save", Key: key, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return false, &buildererr.StorageError{Op: "remote-save", Key: key, Err: err}
	}
	log.Infof("pulled %s from remote store\n", key)
	return true, nil
}
