package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/healforge/healer/internal/datatypes"
	"github.com/healforge/healer/internal/models"
)

// TestDeduplicator indexes generated tests by normalized signature and drops new tests that
// duplicate an indexed one. A duplicate must be similar above the dedup threshold and touch the
// same HTTP verbs and endpoints, so structurally identical tests against different endpoints survive.
type TestDeduplicator struct {
	core      *memoryCore
	threshold float64
	topK      int
}

// NewTestDeduplicator creates a TestDeduplicator over the test_signatures collection.
func NewTestDeduplicator(p MemoryParams) *TestDeduplicator {
	topK := p.Thresholds.DedupTopK
	if topK <= 0 {
		topK = 1
	}

	return &TestDeduplicator{
		core:      newMemoryCore(datatypes.CollectionTestSignatures, p),
		threshold: p.Thresholds.Dedup,
		topK:      topK,
	}
}

// Degraded reports whether the index stopped using its embedding backend.
func (d *TestDeduplicator) Degraded() bool { return d.core.Degraded() }

// FindDuplicate returns the indexed test that testName/code duplicates, restricted to category when
// set. Indexed tests with the same name are never reported as duplicates of themselves.
func (d *TestDeduplicator) FindDuplicate(
	ctx context.Context, testName, code, category string,
) (models.DuplicateMatch, bool) {
	matches, ok := d.core.candidates(ctx, DedupSignature(testName, code), d.topK,
		scopeFilter(models.MetaCategory, category))
	if !ok {
		return models.DuplicateMatch{}, false
	}

	verbs, endpoints := HTTPVerbs(code), Endpoints(code)

	for _, m := range matches {
		if err := checkSimilarity(m.Similarity); err != nil {
			d.core.reject(ctx, m.Record.ID, err)

			return models.DuplicateMatch{}, false
		}

		if m.Similarity < d.threshold {
			break
		}

		sig := models.TestSignatureFromMetadata(m.Record.Metadata)
		if sig.TestName == testName {
			continue
		}

		if !sameSet(sig.Verbs, verbs) || !sameSet(sig.Endpoints, endpoints) {
			continue
		}

		d.core.lookupOutcome(ctx, lookupHit)

		return models.DuplicateMatch{
			TestName:      testName,
			DuplicateOf:   sig.TestName,
			DuplicateFile: sig.FilePath,
			Similarity:    m.Similarity,
		}, true
	}

	d.core.lookupOutcome(ctx, lookupMiss)

	return models.DuplicateMatch{}, false
}

// Register indexes a test. Registering the same test twice is a no-op.
// It returns the signature id, or "" when the index is degraded.
func (d *TestDeduplicator) Register(ctx context.Context, testName, code, category, filePath string) (string, error) {
	if !d.core.writable(ctx) {
		return "", nil
	}

	sig := models.TestSignature{
		TestName:  testName,
		Category:  category,
		FilePath:  filePath,
		Verbs:     HTTPVerbs(code),
		Endpoints: Endpoints(code),
	}

	ids, err := d.core.index.Upsert(ctx, d.core.collection,
		[]string{DedupSignature(testName, code)}, []models.Metadata{sig.ToMetadata()}, nil)
	if err != nil {
		return "", d.core.writeFailed(ctx, "register", err)
	}

	d.core.writeOutcome(ctx, writeInserted)

	return ids[0], nil
}

// Deduplicate removes tests from a Python test file that duplicate already indexed tests (including
// earlier tests of the same file) and registers the tests it keeps. The header before the first
// test is kept unchanged.
func (d *TestDeduplicator) Deduplicate(ctx context.Context, code, category, filePath string) (models.DedupResult, error) {
	header, blocks := SplitTestBlocks(code)
	if len(blocks) == 0 {
		return models.DedupResult{KeptCode: code}, nil
	}

	var (
		kept strings.Builder
		res  = models.DedupResult{OriginalCount: len(blocks)}
	)

	kept.WriteString(header)

	for _, b := range blocks {
		if match, dup := d.FindDuplicate(ctx, b.Name, b.Code, category); dup {
			d.core.logger.InfoContext(ctx, "dedup: removing duplicate test",
				"test", b.Name, "duplicate_of", match.DuplicateOf, "similarity", match.Similarity)

			res.RemovedCount++
			res.Removed = append(res.Removed, match)

			continue
		}

		if _, err := d.Register(ctx, b.Name, b.Code, category, filePath); err != nil {
			return models.DedupResult{}, fmt.Errorf("dedup %s: %w", b.Name, err)
		}

		kept.WriteString(b.Code)
	}

	res.KeptCode = kept.String()

	return res, nil
}

// Count returns the number of indexed tests.
func (d *TestDeduplicator) Count(ctx context.Context) (int, error) { return d.core.count(ctx) }

// Clear drops the index.
func (d *TestDeduplicator) Clear(ctx context.Context) error { return d.core.clear(ctx) }

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)

	return slices.Equal(slices.Compact(a), slices.Compact(b))
}
