package dedup

import "context"

// ContentDedup wires SimHash computation and LSH candidate lookup into
// the single operation Fetcher workers need at §4.7 step 5: "is this
// page's content a near-duplicate of something already indexed, and if
// so, of what?"
type ContentDedup struct {
	lsh       *LSHIndex
	threshold int
}

// NewContentDedup creates a ContentDedup over lsh with the configured
// Hamming-distance threshold (default 3 per §4.4/§6).
func NewContentDedup(lsh *LSHIndex, threshold int) *ContentDedup {
	if threshold <= 0 {
		threshold = 3
	}
	return &ContentDedup{lsh: lsh, threshold: threshold}
}

// Result is the outcome of a content-dedup check.
type Result struct {
	Fingerprint SimHash
	DuplicateOf string // empty if not a duplicate
}

// Check computes text's SimHash, looks up LSH candidates, and verifies
// each by exact Hamming distance. On first match it returns that
// candidate as DuplicateOf; otherwise the page is considered original and
// the caller is expected to Insert its fingerprint.
func (c *ContentDedup) Check(ctx context.Context, text string) (Result, error) {
	fp := Compute(text)
	candidates, err := c.lsh.Candidates(ctx, fp)
	if err != nil {
		return Result{}, err
	}
	for _, candidateURL := range candidates {
		candidateHash := URLHash(candidateURL)
		candidateFP, ok, err := c.lsh.FingerprintOf(ctx, candidateHash)
		if err != nil {
			return Result{}, err
		}
		if ok && NearDuplicate(fp, candidateFP, c.threshold) {
			return Result{Fingerprint: fp, DuplicateOf: candidateURL}, nil
		}
	}
	return Result{Fingerprint: fp}, nil
}

// Insert records url's fingerprint so future Check calls can find it as a
// candidate.
func (c *ContentDedup) Insert(ctx context.Context, url string, fp SimHash) error {
	return c.lsh.Insert(ctx, URLHash(url), url, fp)
}
