// Package dedupe implements two-level content deduplication over the
// extracted bodies of a run: exact SHA-256 of canonicalized text, then
// MinHash + LSH banding for near-duplicates.
//
// Callers must feed entries in ascending entry-id order: the first
// registered member of an equivalence class is its representative, so
// ascending order makes the smallest id win deterministically.
package dedupe

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// mersennePrime bounds the universal-hash permutation space.
	mersennePrime = uint64(1<<61 - 1)
	// permutationSeed fixes the permutation parameters so signatures
	// are reproducible across runs and processes.
	permutationSeed = 1
)

// Result is the verdict for one entry.
type Result struct {
	ContentHash      string
	IsExactDuplicate bool
	IsNearDuplicate  bool
	DuplicateOf      string
	Similarity       float64
}

// Duplicate reports whether the entry should be skipped downstream.
func (r Result) Duplicate() bool { return r.IsExactDuplicate || r.IsNearDuplicate }

// Engine is the per-run deduplication state. Not safe for concurrent
// use; the dedupe stage is serialized by entry id anyway.
type Engine struct {
	numPerm     int
	shingleSize int
	threshold   float64
	bands       int
	rows        int

	permA []uint64
	permB []uint64

	hashes     map[string]string   // content hash → entry id
	signatures map[string][]uint64 // entry id → minhash signature
	buckets    map[string][]string // band key → entry ids
}

// NewEngine creates a dedupe engine. numPerm defaults to 128,
// shingleSize to 5 words, threshold to 0.8.
func NewEngine(numPerm, shingleSize int, threshold float64) *Engine {
	if numPerm <= 0 {
		numPerm = 128
	}
	if shingleSize <= 0 {
		shingleSize = 5
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	bands, rows := pickBands(numPerm, threshold)

	rng := rand.New(rand.NewSource(permutationSeed))
	permA := make([]uint64, numPerm)
	permB := make([]uint64, numPerm)
	for i := 0; i < numPerm; i++ {
		permA[i] = uint64(rng.Int63n(int64(mersennePrime-1))) + 1
		permB[i] = uint64(rng.Int63n(int64(mersennePrime)))
	}

	return &Engine{
		numPerm:     numPerm,
		shingleSize: shingleSize,
		threshold:   threshold,
		bands:       bands,
		rows:        rows,
		permA:       permA,
		permB:       permB,
		hashes:      make(map[string]string),
		signatures:  make(map[string][]uint64),
		buckets:     make(map[string][]string),
	}
}

// pickBands chooses a (bands, rows) split of the signature. The split
// whose probability curve sits somewhat BELOW the Jaccard threshold is
// preferred: candidate recall near the threshold must stay high, and
// false candidates are cheap because every candidate is re-verified
// against the signature estimate.
func pickBands(numPerm int, threshold float64) (int, int) {
	target := threshold * 0.85
	bestBands, bestRows := numPerm, 1
	bestDelta := math.Inf(1)
	for bands := 1; bands <= numPerm; bands++ {
		if numPerm%bands != 0 {
			continue
		}
		rows := numPerm / bands
		curve := math.Pow(1/float64(bands), 1/float64(rows))
		delta := math.Abs(curve - target)
		if delta < bestDelta {
			bestDelta = delta
			bestBands, bestRows = bands, rows
		}
	}
	return bestBands, bestRows
}

var (
	punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	wsRe    = regexp.MustCompile(`\s+`)
)

// Canonicalize lowercases, strips punctuation, and collapses internal
// whitespace so hashing is stable across formatting variants.
func Canonicalize(text string) string {
	text = strings.ToLower(text)
	text = punctRe.ReplaceAllString(text, "")
	text = wsRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ContentHash is the SHA-256 hex digest of the canonicalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(Canonicalize(text)))
	return hex.EncodeToString(sum[:])
}

// CheckAndRegister checks text against everything registered so far
// and, when unique, registers it. Exact collisions beat the near
// check; in both cases the earlier-registered entry is the winner.
func (e *Engine) CheckAndRegister(entryID, text string) Result {
	contentHash := ContentHash(text)

	if original, ok := e.hashes[contentHash]; ok {
		return Result{
			ContentHash:      contentHash,
			IsExactDuplicate: true,
			DuplicateOf:      original,
			Similarity:       1.0,
		}
	}

	sig := e.signature(text)

	bestID := ""
	bestSim := 0.0
	for _, candidate := range e.query(sig) {
		candSig, ok := e.signatures[candidate]
		if !ok {
			continue
		}
		sim := estimateJaccard(sig, candSig)
		if sim > bestSim {
			bestSim = sim
			bestID = candidate
		}
	}

	if bestID != "" && bestSim >= e.threshold {
		// Register the hash so later byte-identical copies of this
		// variant still resolve to a representative.
		e.hashes[contentHash] = bestID
		return Result{
			ContentHash:     contentHash,
			IsNearDuplicate: true,
			DuplicateOf:     bestID,
			Similarity:      bestSim,
		}
	}

	e.hashes[contentHash] = entryID
	e.signatures[entryID] = sig
	e.insert(entryID, sig)

	return Result{ContentHash: contentHash}
}

// Stats returns registration counts.
func (e *Engine) Stats() (registered, indexed int) {
	return len(e.hashes), len(e.signatures)
}

// signature computes the MinHash signature over word shingles.
func (e *Engine) signature(text string) []uint64 {
	words := strings.Fields(Canonicalize(text))

	sig := make([]uint64, e.numPerm)
	for i := range sig {
		sig[i] = math.MaxUint64
	}

	emit := func(shingle string) {
		h := xxhash.Sum64String(shingle) % mersennePrime
		for i := 0; i < e.numPerm; i++ {
			v := (e.permA[i]*h + e.permB[i]) % mersennePrime
			if v < sig[i] {
				sig[i] = v
			}
		}
	}

	if len(words) < e.shingleSize {
		if len(words) > 0 {
			emit(strings.Join(words, " "))
		}
		return sig
	}
	for i := 0; i+e.shingleSize <= len(words); i++ {
		emit(strings.Join(words[i:i+e.shingleSize], " "))
	}
	return sig
}

func (e *Engine) bandKey(band int, sig []uint64) string {
	buf := make([]byte, 8*e.rows)
	for i, v := range sig[band*e.rows : (band+1)*e.rows] {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return fmt.Sprintf("%d:%x", band, buf)
}

func (e *Engine) insert(entryID string, sig []uint64) {
	for band := 0; band < e.bands; band++ {
		key := e.bandKey(band, sig)
		e.buckets[key] = append(e.buckets[key], entryID)
	}
}

func (e *Engine) query(sig []uint64) []string {
	seen := make(map[string]bool)
	var out []string
	for band := 0; band < e.bands; band++ {
		for _, id := range e.buckets[e.bandKey(band, sig)] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// estimateJaccard is the fraction of agreeing signature positions.
func estimateJaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	match := 0
	for i := range a {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(len(a))
}
