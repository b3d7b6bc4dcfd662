package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/scenario"
)

const ransomwareJSON = `{
  "title": "Ransomware on the file server",
  "description": "Encrypted shares discovered on Monday morning",
  "rounds": [
    {
      "id": "r1",
      "title": "Detection",
      "questions": [
        {"id": "q1", "type": "multiple-choice", "question": "First step?", "options": ["isolate", "pay"], "points": 10, "correctAnswer": 0},
        {"id": "q2", "type": "true-false", "question": "Restore from backups?", "points": 5, "correctAnswer": true}
      ]
    }
  ]
}`

const phishingYAML = `
title: Credential phishing
rounds:
  - id: r1
    title: Triage
    questions:
      - id: q1
        type: matching
        points: 6
        partialCredit: true
        correctMatches:
          - {left: sender, right: spoofed}
          - {left: link, right: lookalike}
      - id: q2
        type: numeric
        points: 2
        correctAnswer: 42
        tolerance: 1
`

func TestFileRepository_GetScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "malware", "tabletop", "ransomware.json"), ransomwareJSON)
	writeFile(t, filepath.Join(dir, "social", "tabletop", "phishing.yaml"), phishingYAML)
	writeFile(t, filepath.Join(dir, "social", "tabletop", "broken.json"), `{"rounds": [`)
	writeFile(t, filepath.Join(dir, "social", "tabletop", "dupes.json"),
		`{"rounds":[{"id":"r1","questions":[{"id":"q1","points":1},{"id":"q1","points":1}]}]}`)

	repo := scenario.NewFileRepository(dir)
	ctx := context.Background()

	t.Run("json scenario", func(t *testing.T) {
		s, err := repo.GetScenario(ctx, domain.ScenarioRef{Category: "malware", Type: "tabletop", ID: "ransomware"})
		require.NoError(t, err)

		assert.Equal(t, "ransomware", s.ID)
		assert.Equal(t, "Ransomware on the file server", s.Title)
		require.Len(t, s.Rounds, 1)
		q, ok := s.Rounds[0].Question("q2")
		require.True(t, ok)
		assert.Equal(t, true, q.CorrectAnswer)
	})

	t.Run("yaml scenario", func(t *testing.T) {
		s, err := repo.GetScenario(ctx, domain.ScenarioRef{Category: "social", Type: "tabletop", ID: "phishing"})
		require.NoError(t, err)

		q, ok := s.Rounds[0].Question("q1")
		require.True(t, ok)
		assert.Equal(t, domain.QuestionMatching, q.Type)
		assert.Equal(t, []domain.Match{{Left: "sender", Right: "spoofed"}, {Left: "link", Right: "lookalike"}}, q.CorrectMatches)
		assert.True(t, q.PartialCredit)
	})

	t.Run("missing scenario is not found", func(t *testing.T) {
		_, err := repo.GetScenario(ctx, domain.ScenarioRef{Category: "social", Type: "tabletop", ID: "nope"})
		assert.True(t, errors.HasReason(err, errors.ReasonScenarioNotFound))
	})

	t.Run("path traversal is not found", func(t *testing.T) {
		_, err := repo.GetScenario(ctx, domain.ScenarioRef{Category: "..", Type: "tabletop", ID: "ransomware"})
		assert.True(t, errors.Is(err, errors.CodeNotFound))

		_, err = repo.GetScenario(ctx, domain.ScenarioRef{Category: "malware", Type: "tabletop", ID: "../tabletop/ransomware"})
		assert.True(t, errors.Is(err, errors.CodeNotFound))
	})

	t.Run("unreadable scenario is an infrastructure fault", func(t *testing.T) {
		_, err := repo.GetScenario(ctx, domain.ScenarioRef{Category: "social", Type: "tabletop", ID: "broken"})
		assert.True(t, errors.Is(err, errors.CodeInternal))
		assert.True(t, errors.HasReason(err, errors.ReasonScenarioUnavailable))
	})

	t.Run("duplicate question ids are rejected", func(t *testing.T) {
		_, err := repo.GetScenario(ctx, domain.ScenarioRef{Category: "social", Type: "tabletop", ID: "dupes"})
		assert.True(t, errors.HasReason(err, errors.ReasonScenarioUnavailable))
	})
}

func TestCachedRepository_GetScenario(t *testing.T) {
	ref := domain.ScenarioRef{Category: "malware", Type: "tabletop", ID: "ransomware"}

	mem := scenario.NewMemoryRepository()
	mem.Put(ref, domain.Scenario{
		ID:    "ransomware",
		Title: "Ransomware",
		Rounds: []domain.Round{{
			ID: "r1",
			Questions: []domain.Question{
				{ID: "q1", Type: domain.QuestionTrueFalse, Points: 1, CorrectAnswer: false},
			},
		}},
	})
	loader := &countingRepository{next: mem}

	mr := miniredis.RunT(t)
	repo := scenario.NewCachedRepository(scenario.CacheConfig{
		Redis:  redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}}),
		Next:   loader,
		Prefix: "test",
		TTL:    time.Minute,
	})

	var eg errgroup.Group
	for range 10 {
		eg.Go(func() error {
			_, err := repo.GetScenario(context.Background(), ref)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	s, err := repo.GetScenario(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "Ransomware", s.Title)
	assert.Equal(t, false, s.Rounds[0].Questions[0].CorrectAnswer)

	assert.LessOrEqual(t, loader.count(), 2, "concurrent misses should share loads")
	assert.True(t, mr.Exists("test:scenario:malware:tabletop:ransomware"))
	assert.Greater(t, mr.TTL("test:scenario:malware:tabletop:ransomware"), time.Duration(0))

	before := loader.count()
	_, err = repo.GetScenario(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, before, loader.count(), "cached scenario should not hit the loader")

	_, err = repo.GetScenario(context.Background(), domain.ScenarioRef{Category: "x", Type: "y", ID: "z"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

type countingRepository struct {
	mu    sync.Mutex
	calls int
	next  scenario.Repository
}

func (r *countingRepository) GetScenario(ctx context.Context, ref domain.ScenarioRef) (*domain.Scenario, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.next.GetScenario(ctx, ref)
}

func (r *countingRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
