package metadatastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/mimir-curation/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "curation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestStore(t)

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 10000, busyTimeout)
}

func TestNewSQLiteStoreFailsForMissingDirectory(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "curation.db"))
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestAgreementReports(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	score := 0.75
	first := &models.AgreementReport{
		ID:        "r1",
		ProjectID: "p1",
		Layer:     "NamedEntity",
		Feature:   "value",
		Measure:   "cohen-kappa",
		Raters:    []string{"anna", "bob"},
		Agreement: &score,
		Pairwise: []models.PairwiseScore{
			{RaterA: "anna", RaterB: "bob", Agreement: &score},
		},
		Study:     models.StudyCounts{Items: 4, Categories: 2, Stacked: 1},
		CreatedAt: base,
	}
	second := &models.AgreementReport{
		ID:        "r2",
		ProjectID: "p2",
		Layer:     "NamedEntity",
		Feature:   "value",
		Measure:   "fleiss-kappa",
		CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, store.SaveAgreementReport(first))
	require.NoError(t, store.SaveAgreementReport(second))

	got, err := store.GetAgreementReport("r1")
	require.NoError(t, err)
	require.NotNil(t, got.Agreement)
	assert.InDelta(t, 0.75, *got.Agreement, 1e-9)
	assert.Equal(t, []string{"anna", "bob"}, got.Raters)
	assert.Equal(t, 1, got.Study.Stacked)
	assert.Len(t, got.Pairwise, 1)

	undefined, err := store.GetAgreementReport("r2")
	require.NoError(t, err)
	assert.Nil(t, undefined.Agreement)

	all, err := store.ListAgreementReports()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID)

	byProject, err := store.ListAgreementReportsByProject("p1")
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, "r1", byProject[0].ID)

	require.NoError(t, store.DeleteAgreementReport("r1"))
	_, err = store.GetAgreementReport("r1")
	assert.ErrorContains(t, err, "agreement report not found: r1")
}

func TestEvaluations(t *testing.T) {
	store := newTestStore(t)

	accuracy := 0.5
	require.NoError(t, store.SaveEvaluation(&models.EvaluationRecord{
		ID:              "e1",
		RecommenderID:   "ner",
		Tool:            "string-matching",
		TrainingSetSize: 6,
		TestSetSize:     4,
		Accuracy:        &accuracy,
		CreatedAt:       time.Now().UTC(),
	}))
	require.NoError(t, store.SaveEvaluation(&models.EvaluationRecord{
		ID:            "e2",
		RecommenderID: "ner",
		Tool:          "string-matching",
		Skipped:       true,
		SkipReason:    "test set is empty",
		CreatedAt:     time.Now().UTC(),
	}))

	got, err := store.GetEvaluation("e2")
	require.NoError(t, err)
	assert.True(t, got.Skipped)
	assert.Nil(t, got.Accuracy)

	records, err := store.ListEvaluationsByRecommender("ner")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	none, err := store.ListEvaluationsByRecommender("pos")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTrainingTasks(t *testing.T) {
	store := newTestStore(t)

	task := &models.TrainingTask{
		ID:            "t1",
		RecommenderID: "ner",
		User:          "anna",
		Trigger:       models.TrainingTriggerManual,
		Status:        models.TrainingTaskStatusQueued,
		SubmittedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveTrainingTask(task))

	completed := time.Now().UTC()
	task.Status = models.TrainingTaskStatusCompleted
	task.CompletedAt = &completed
	task.SuggestionCount = 3
	task.ContextMessages = []string{"Learned 2 distinct texts"}
	require.NoError(t, store.SaveTrainingTask(task))

	got, err := store.GetTrainingTask("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TrainingTaskStatusCompleted, got.Status)
	assert.Equal(t, 3, got.SuggestionCount)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, task.ContextMessages, got.ContextMessages)

	all, err := store.ListTrainingTasks()
	require.NoError(t, err)
	assert.Len(t, all, 1, "saving again replaces the row")

	byUser, err := store.ListTrainingTasksByUser("bob")
	require.NoError(t, err)
	assert.Empty(t, byUser)

	_, err = store.GetTrainingTask("missing")
	assert.ErrorContains(t, err, "training task not found")
}
