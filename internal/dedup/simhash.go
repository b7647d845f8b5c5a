package dedup

import (
	"context"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/crawlcore/ingestion/internal/kv"
)

// SimHash is a 64-bit locality-sensitive content fingerprint per §4.4.
type SimHash uint64

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

const shingleSize = 5

// Compute builds the SimHash of text: tokenize into lowercased 5-word
// shingles after stripping non-alphanumerics, hash each shingle to 64
// bits, and accumulate a signed per-bit vector weighted by shingle
// frequency. Deterministic: the same text always yields the same
// fingerprint.
func Compute(text string) SimHash {
	tokens := tokenize(text)
	shingles := make(map[string]int)
	for i := 0; i+shingleSize <= len(tokens); i++ {
		shingle := strings.Join(tokens[i:i+shingleSize], " ")
		shingles[shingle]++
	}
	if len(shingles) == 0 {
		// Too short for a 5-word shingle: fall back to the whole token
		// stream as a single shingle so short pages still fingerprint.
		if len(tokens) > 0 {
			shingles[strings.Join(tokens, " ")] = 1
		}
	}

	var vector [64]int64
	for shingle, weight := range shingles {
		h := xxhash.Sum64String(shingle)
		w := int64(weight)
		for bit := 0; bit < 64; bit++ {
			if h&(1<<uint(bit)) != 0 {
				vector[bit] += w
			} else {
				vector[bit] -= w
			}
		}
	}

	var fingerprint uint64
	for bit := 0; bit < 64; bit++ {
		if vector[bit] > 0 {
			fingerprint |= 1 << uint(bit)
		}
	}
	return SimHash(fingerprint)
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	cleaned := nonAlphanumeric.ReplaceAllString(lower, " ")
	fields := strings.Fields(cleaned)
	return fields
}

// HammingDistance returns popcount(a XOR b).
func HammingDistance(a, b SimHash) int {
	return bits.OnesCount64(uint64(a) ^ uint64(b))
}

// NearDuplicate reports whether a and b are near-duplicates under
// threshold (default 3 per §4.4, ~95% similarity).
func NearDuplicate(a, b SimHash, threshold int) bool {
	return HammingDistance(a, b) <= threshold
}

// LSHIndex splits each 64-bit fingerprint into bands and indexes
// (band, segment) -> URL set in KV, so candidate lookups avoid O(N)
// pairwise Hamming comparisons, per §4.4/§9.
type LSHIndex struct {
	store    kv.Store
	bands    int
	bandBits int
}

// NewLSHIndex creates an index with the given band count/width (4 bands
// of 16 bits by default per §6's config).
func NewLSHIndex(store kv.Store, bands, bandBits int) *LSHIndex {
	if bands <= 0 {
		bands = 4
	}
	if bandBits <= 0 {
		bandBits = 16
	}
	return &LSHIndex{store: store, bands: bands, bandBits: bandBits}
}

func (l *LSHIndex) segment(fp SimHash, band int) uint64 {
	shift := uint(band * l.bandBits)
	mask := uint64(1)<<uint(l.bandBits) - 1
	return (uint64(fp) >> shift) & mask
}

func (l *LSHIndex) bandKey(band int, segment uint64) string {
	return fmt.Sprintf("lsh:%d:%s", band, strconv.FormatUint(segment, 16))
}

// Insert adds url's fingerprint to all bands' bucket indexes and stores
// the fingerprint itself under simhash:<urlhash>.
func (l *LSHIndex) Insert(ctx context.Context, urlHash, url string, fp SimHash) error {
	for band := 0; band < l.bands; band++ {
		key := l.bandKey(band, l.segment(fp, band))
		if err := l.store.SetAdd(ctx, key, url, seenTTL); err != nil {
			return fmt.Errorf("dedup: lsh insert for %s: %w", url, err)
		}
	}
	if err := l.store.Set(ctx, "simhash:"+urlHash, strconv.FormatUint(uint64(fp), 16), seenTTL); err != nil {
		return fmt.Errorf("dedup: simhash store for %s: %w", url, err)
	}
	return nil
}

// Candidates unions the URL sets of all four bands' buckets for fp,
// without verifying exact Hamming distance — callers must re-check with
// NearDuplicate before treating a candidate as a true duplicate.
func (l *LSHIndex) Candidates(ctx context.Context, fp SimHash) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for band := 0; band < l.bands; band++ {
		key := l.bandKey(band, l.segment(fp, band))
		members, err := l.store.SetMembers(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("dedup: lsh candidates band %d: %w", band, err)
		}
		for _, m := range members {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// FingerprintOf returns the stored fingerprint for urlHash, if any.
func (l *LSHIndex) FingerprintOf(ctx context.Context, urlHash string) (SimHash, bool, error) {
	raw, ok, err := l.store.Get(ctx, "simhash:"+urlHash)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, false, fmt.Errorf("dedup: parsing stored fingerprint: %w", err)
	}
	return SimHash(n), true, nil
}
