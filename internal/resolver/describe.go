package resolver

import (
	"context"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Describe returns a best-effort, human-readable "<ref> (<tag> + <n>
// commits)" annotation for logging only (spec.md §4.2 "Upstream version
// annotation"). Failure to describe is non-fatal: callers never see an
// error, only a degraded string, matching the original's own try/except
// that falls back to "<ref> (No tag found)".
//
// This is the one place go-git's porcelain API is used directly (see
// DESIGN.md): it is a nice-to-have log line, not a correctness-critical
// path, so a typed commit/tag walk is a better fit than shelling out to
// `git describe`.
func (r *Resolver) Describe(ctx context.Context, repo, ref string) string {
	mirror := r.mirrorPath(repo)

	repoObj, err := git.PlainOpen(mirror)
	if err != nil {
		return shortRef(ref) + " (no tag found)"
	}

	target, err := repoObj.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return shortRef(ref) + " (no tag found)"
	}

	tags, err := tagCommits(repoObj)
	if err != nil || len(tags) == 0 {
		return shortRef(ref) + " (no tag found)"
	}

	commits, err := repoObj.Log(&git.LogOptions{From: *target})
	if err != nil {
		return shortRef(ref) + " (no tag found)"
	}
	defer commits.Close()

	distance := 0
	var nearest string
	err = commits.ForEach(func(c *object.Commit) error {
		if name, ok := tags[c.Hash]; ok {
			nearest = name
			return storer.ErrStop
		}
		distance++
		return nil
	})
	if err != nil || nearest == "" {
		return shortRef(ref) + " (no tag found)"
	}
	return fmt.Sprintf("%s (%s + %d commits)", shortRef(ref), nearest, distance)
}

func tagCommits(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := map[plumbing.Hash]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		hash := ref.Hash()
		// Annotated tags point at a tag object, not the commit directly;
		// resolve it so distance-walking still lines up against commits.
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			if commit, err := tagObj.Commit(); err == nil {
				hash = commit.Hash
			}
		}
		out[hash] = name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
