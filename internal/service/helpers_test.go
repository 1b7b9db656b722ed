package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/healforge/healer/internal/config"
	"github.com/healforge/healer/internal/embeddings"
	"github.com/healforge/healer/internal/healerrors"
	"github.com/healforge/healer/internal/models"
	"github.com/healforge/healer/internal/repository"
)

// newTestIndex returns a VectorIndex over a temp SQLite file and the offline hashing embedder.
func newTestIndex(t *testing.T) *VectorIndex {
	t.Helper()

	repo, err := repository.OpenSQLiteVectorRepository(context.Background(), filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return NewVectorIndex(repo, embeddings.NewProvider("local", embeddings.NewHashingClient(0)), nil)
}

func testMemoryParams(idx *VectorIndex) MemoryParams {
	return MemoryParams{Index: idx, Thresholds: config.DefaultThresholds()}
}

// unavailableEmbedder fails like an embedding backend that cannot be loaded.
type unavailableEmbedder struct{}

func (unavailableEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, healerrors.NewEmbeddingUnavailableError("test", errors.New("model not loaded"))
}

func (unavailableEmbedder) EmbedMany(context.Context, []string) ([][]float32, error) {
	return nil, healerrors.NewEmbeddingUnavailableError("test", errors.New("model not loaded"))
}

type mockReasoner struct {
	mu            sync.Mutex
	classifyFunc  func(code, errText string) (models.ClassificationResult, error)
	healFunc      func(code, errText string) (string, error)
	classifyCalls int
	healCalls     int
}

func (m *mockReasoner) Classify(_ context.Context, testCode, errorText string) (models.ClassificationResult, error) {
	m.mu.Lock()
	m.classifyCalls++
	m.mu.Unlock()

	return m.classifyFunc(testCode, errorText)
}

func (m *mockReasoner) Heal(_ context.Context, testCode, errorText, _ string) (string, error) {
	m.mu.Lock()
	m.healCalls++
	m.mu.Unlock()

	return m.healFunc(testCode, errorText)
}

func (m *mockReasoner) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.classifyCalls, m.healCalls
}

type mockRunner struct {
	mu      sync.Mutex
	runFunc func(testID string, call int) models.TestRunResult
	calls   map[string]int
}

func (m *mockRunner) RunSingle(_ context.Context, testID string) (models.TestRunResult, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}

	m.calls[testID]++
	call := m.calls[testID]
	m.mu.Unlock()

	res := m.runFunc(testID, call)
	res.TestID = testID

	return res, nil
}

type memorySource struct {
	mu    sync.Mutex
	files map[string]string
}

func (s *memorySource) Read(_ context.Context, testID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.files[testID]
	if !ok {
		return "", healerrors.NewNotFoundError("test", testID)
	}

	return code, nil
}

func (s *memorySource) Write(_ context.Context, testID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.files == nil {
		s.files = map[string]string{}
	}

	s.files[testID] = code

	return nil
}

func newTestOrchestrator(t *testing.T, p HealingOrchestratorParams) *HealingOrchestrator {
	t.Helper()

	o, err := NewHealingOrchestrator(p)
	require.NoError(t, err)

	return o
}
