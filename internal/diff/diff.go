package diff

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// Context snippet carried by each hunk for fuzzy matching
	patchMargin = 4

	// How far a hunk may slide from its expected position and still apply
	matchDistance = 32
)

// Patcher wraps diff-match-patch with the settings the sync engine relies
// on: small context windows per hunk and a bounded fuzzy-match distance, so
// patches built against a slightly stale base still land.
type Patcher struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// New creates a Patcher
func New() *Patcher {
	dmp := diffmatchpatch.New()
	dmp.PatchMargin = patchMargin
	dmp.MatchDistance = matchDistance
	return &Patcher{dmp: dmp}
}

// Diff computes a character-level diff from a to b, consolidated at
// semantic boundaries.
func (p *Patcher) Diff(a, b string) []diffmatchpatch.Diff {
	diffs := p.dmp.DiffMain(a, b, false)
	return p.dmp.DiffCleanupSemantic(diffs)
}

// MakePatch builds a serialized patch bundle turning a into b
func (p *Patcher) MakePatch(a, b string) string {
	patches := p.dmp.PatchMake(a, p.Diff(a, b))
	return p.dmp.PatchToText(patches)
}

// Apply applies a serialized patch bundle against text. It returns the
// patched text and one boolean per hunk; callers decide whether partial
// application is acceptable. A malformed bundle is an error, not a failed
// hunk.
func (p *Patcher) Apply(bundle, text string) (string, []bool, error) {
	patches, err := p.dmp.PatchFromText(bundle)
	if err != nil {
		return text, nil, fmt.Errorf("parse patch bundle: %w", err)
	}
	newText, results := p.dmp.PatchApply(patches, text)
	return newText, results, nil
}

// Applied reports whether every hunk in a result set landed
func Applied(results []bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}
