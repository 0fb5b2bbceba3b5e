package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/models"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation/stringmatch"
)

type memorySource struct {
	docs map[string]map[string]func() *cas.CAS
}

func (m *memorySource) Users(ctx context.Context) ([]string, error) {
	var users []string
	for user := range m.docs {
		users = append(users, user)
	}
	return users, nil
}

func (m *memorySource) Documents(ctx context.Context, user string) (map[string]*cas.CAS, error) {
	result := make(map[string]*cas.CAS)
	for name, build := range m.docs[user] {
		result[name] = build()
	}
	return result, nil
}

type memoryStore struct {
	mu          sync.Mutex
	tasks       map[string]models.TrainingTask
	saves       int
	evaluations []*models.EvaluationRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tasks: make(map[string]models.TrainingTask)}
}

func (m *memoryStore) SaveTrainingTask(task *models.TrainingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	m.saves++
	return nil
}

func (m *memoryStore) SaveEvaluation(record *models.EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations = append(m.evaluations, record)
	return nil
}

type brokenEngine struct {
	rec   recommendation.Recommender
	panic bool
}

func (b *brokenEngine) Recommender() recommendation.Recommender { return b.rec }

func (b *brokenEngine) Train(ctx context.Context, rc *recommendation.Context, casses []*cas.CAS) error {
	if b.panic {
		panic("model exploded")
	}
	return recommendation.NewEngineError(b.rec.Tool, "train", errors.New("connection refused"))
}

func (b *brokenEngine) Predict(ctx context.Context, rc *recommendation.Context, c *cas.CAS) error {
	return nil
}

func (b *brokenEngine) Evaluate(ctx context.Context, casses []*cas.CAS, s recommendation.DataSplitter) (*recommendation.EvaluationResult, error) {
	return nil, errors.New("not supported")
}

func (b *brokenEngine) IsEvaluable() bool      { return false }
func (b *brokenEngine) RequiresTraining() bool { return true }

func annotatedDoc() *cas.CAS {
	c := cas.New("Alice met Bob in Paris")
	c.Annotate("NamedEntity", 0, 5, map[string]any{"value": "PER"})
	c.Annotate("NamedEntity", 17, 22, map[string]any{"value": "LOC"})
	return c
}

func plainDoc() *cas.CAS {
	return cas.New("Alice went to Paris")
}

func recommender(id, tool string) recommendation.Recommender {
	return recommendation.Recommender{
		ID:      id,
		Name:    id,
		Layer:   "NamedEntity",
		Feature: "value",
		Tool:    tool,
		Enabled: true,
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memoryStore) {
	t.Helper()

	factory := recommendation.NewFactory()
	require.NoError(t, stringmatch.Register(factory))
	require.NoError(t, factory.Register("broken", func(rec recommendation.Recommender) (recommendation.Engine, error) {
		return &brokenEngine{rec: rec}, nil
	}))
	require.NoError(t, factory.Register("panicky", func(rec recommendation.Recommender) (recommendation.Engine, error) {
		return &brokenEngine{rec: rec, panic: true}, nil
	}))

	source := &memorySource{docs: map[string]map[string]func() *cas.CAS{
		"anna": {"doc-1": annotatedDoc, "doc-2": plainDoc},
		"bob":  {"doc-2": plainDoc},
	}}

	store := newMemoryStore()
	svc := NewService(factory, source, append([]Option{WithStore(store)}, opts...)...)
	require.NoError(t, svc.AddRecommender(recommender("ner", stringmatch.Tool)))
	require.NoError(t, svc.AddRecommender(recommender("broken", "broken")))
	require.NoError(t, svc.AddRecommender(recommender("panicky", "panicky")))
	return svc, store
}

func TestAddRecommenderRejectsUnknownTool(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Error(t, svc.AddRecommender(recommender("x", "missing")))
	assert.Error(t, svc.AddRecommender(recommendation.Recommender{ID: "y"}))
	assert.Len(t, svc.Recommenders(), 3)
}

func TestEnqueueValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Enqueue("", "ner", models.TrainingTriggerManual)
	assert.Error(t, err)
	_, err = svc.Enqueue("anna", "missing", models.TrainingTriggerManual)
	assert.ErrorContains(t, err, "recommender not found")

	disabled := recommender("off", stringmatch.Tool)
	disabled.Enabled = false
	require.NoError(t, svc.AddRecommender(disabled))
	_, err = svc.Enqueue("anna", "off", models.TrainingTriggerManual)
	assert.ErrorContains(t, err, "disabled")
}

func TestRunNextTrainsAndPredicts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	task, err := svc.Enqueue("anna", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingTaskStatusQueued, task.Status)
	assert.Equal(t, 1, svc.QueueLength())

	processed, err := svc.RunNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	done, err := svc.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingTaskStatusCompleted, done.Status)
	assert.Equal(t, 2, done.DocumentCount)
	assert.Equal(t, 4, done.SuggestionCount)
	assert.Contains(t, done.ContextMessages, "[info] Learned 2 distinct texts")
	assert.NotNil(t, done.CompletedAt)

	predictions := svc.Predictions("anna")
	require.NotNil(t, predictions)
	assert.Equal(t, 1, predictions.Generation())
	assert.Equal(t, []string{"doc-1", "doc-2"}, predictions.Documents())
	for _, s := range predictions.Suggestions("doc-1") {
		assert.True(t, s.Hidden, "suggestion %s at %d is already annotated", s.Label, s.Begin)
	}
	for _, s := range predictions.Suggestions("doc-2") {
		assert.False(t, s.Hidden)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, models.TrainingTaskStatusCompleted, store.tasks[task.ID].Status)
	assert.Equal(t, 2, store.saves)
	require.Len(t, store.evaluations, 1)
	assert.True(t, store.evaluations[0].Skipped, "two spans do not fill a test set")

	processed, err = svc.RunNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestFailingRecommendersAreIsolated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	broken, err := svc.Enqueue("anna", "broken", models.TrainingTriggerManual)
	require.NoError(t, err)
	panicky, err := svc.Enqueue("anna", "panicky", models.TrainingTriggerManual)
	require.NoError(t, err)
	ner, err := svc.Enqueue("anna", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		processed, err := svc.RunNext(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	task, _ := svc.Task(broken.ID)
	assert.Equal(t, models.TrainingTaskStatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "connection refused")

	task, _ = svc.Task(panicky.ID)
	assert.Equal(t, models.TrainingTaskStatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "model exploded")

	task, _ = svc.Task(ner.ID)
	assert.Equal(t, models.TrainingTaskStatusCompleted, task.Status)
	assert.Equal(t, 4, svc.Predictions("anna").Count())
}

func TestRetrainingReplacesSuggestions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Enqueue("anna", "ner", models.TrainingTriggerAnnotation)
		require.NoError(t, err)
		_, err = svc.RunNext(ctx)
		require.NoError(t, err)
	}

	predictions := svc.Predictions("anna")
	assert.Equal(t, 2, predictions.Generation())
	assert.Equal(t, 4, predictions.Count())
}

func TestCancelledTask(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := svc.Enqueue("anna", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)
	_, err = svc.RunNext(ctx)
	require.NoError(t, err)

	done, _ := svc.Task(task.ID)
	assert.Equal(t, models.TrainingTaskStatusCancelled, done.Status)
	assert.Nil(t, svc.Predictions("anna"))
}

func TestCancelUser(t *testing.T) {
	svc, _ := newTestService(t)
	task, err := svc.Enqueue("anna", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)
	_, err = svc.Enqueue("bob", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.CancelUser("anna"))
	assert.Equal(t, 1, svc.QueueLength())
	cancelled, _ := svc.Task(task.ID)
	assert.Equal(t, models.TrainingTaskStatusCancelled, cancelled.Status)
}

func TestEnqueueAll(t *testing.T) {
	svc, _ := newTestService(t)
	n, err := svc.EnqueueAll(context.Background(), models.TrainingTriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "two users and three recommenders")
	assert.Equal(t, 6, svc.QueueLength())
}

func TestRunProcessesQueue(t *testing.T) {
	svc, _ := newTestService(t, WithWorkers(2))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	task, err := svc.Enqueue("bob", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.Task(task.ID)
		return err == nil && current.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	current, _ := svc.Task(task.ID)
	assert.Equal(t, models.TrainingTaskStatusCompleted, current.Status)
	assert.Equal(t, 0, current.SuggestionCount, "bob has no annotations to learn from")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunRejectsInvalidSchedule(t *testing.T) {
	svc, _ := newTestService(t, WithRetrainSchedule("not a schedule"))
	err := svc.Run(context.Background())
	assert.ErrorContains(t, err, "invalid retrain schedule")
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "anna"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bob"), 0o755))

	data, err := cas.Marshal(annotatedDoc())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anna", "doc-1.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anna", "notes.txt"), []byte("skip"), 0o644))

	source := NewFileSource(dir)
	ctx := context.Background()

	users, err := source.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"anna", "bob"}, users)

	docs, err := source.Documents(ctx, "anna")
	require.NoError(t, err)
	require.Contains(t, docs, "doc-1")
	assert.Len(t, docs["doc-1"].Select("NamedEntity"), 2)

	empty, err := source.Documents(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = source.Documents(ctx, "../anna")
	assert.Error(t, err)

	missing, err := NewFileSource(filepath.Join(dir, "missing")).Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFinishRecordsOutcome(t *testing.T) {
	svc, store := newTestService(t)

	err := svc.finish("missing", runResult{documents: 1}, models.TrainingTaskStatusCompleted, "")
	assert.ErrorContains(t, err, "training task not found: missing")
	assert.Zero(t, store.saves)

	task, err := svc.Enqueue("anna", "ner", models.TrainingTriggerManual)
	require.NoError(t, err)
	require.NoError(t, svc.finish(task.ID, runResult{documents: 2, suggestions: 3, messages: []string{"[info] done"}},
		models.TrainingTaskStatusFailed, "engine failed"))

	saved := store.tasks[task.ID]
	assert.Equal(t, models.TrainingTaskStatusFailed, saved.Status)
	assert.Equal(t, "engine failed", saved.ErrorMessage)
	assert.Equal(t, 2, saved.DocumentCount)
	assert.Equal(t, 3, saved.SuggestionCount)
	assert.NotNil(t, saved.CompletedAt)
}
