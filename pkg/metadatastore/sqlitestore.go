package metadatastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mimir-aip/mimir-curation/pkg/models"
)

const maxBusyRetries = 5

// SQLiteStore provides SQLite-based persistence for agreement reports, evaluations and training tasks
type SQLiteStore struct {
	db *sql.DB
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-based storage instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// modernc.org/sqlite applies each _pragma parameter on every new connection
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writes are serialized by SQLite anyway
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.setup(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) setup() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// In-memory databases use "memory" or "delete" mode, which is acceptable for testing
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "delete" && journalMode != "memory" {
		return fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	if err := s.initSchema(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// retryOnBusy retries a database operation if it fails due to SQLITE_BUSY.
// This is a safety net on top of the busy_timeout pragma.
func (s *SQLiteStore) retryOnBusy(operation func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") {
			// Exponential backoff: 10ms, 20ms, 40ms, 80ms, 160ms
			backoff := time.Duration(10*(1<<uint(i))) * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

// initSchema creates the database schema if it doesn't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agreement_reports (
		id TEXT PRIMARY KEY,
		project_id TEXT,
		layer TEXT NOT NULL,
		feature TEXT NOT NULL,
		measure TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agreement_reports_project_id ON agreement_reports(project_id);

	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		recommender_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		skipped INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_recommender_id ON evaluations(recommender_id);

	CREATE TABLE IF NOT EXISTS training_tasks (
		id TEXT PRIMARY KEY,
		recommender_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		completed_at DATETIME,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_training_tasks_user ON training_tasks(user_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// save marshals a record and writes it with the given insert statement
func (s *SQLiteStore) save(kind string, record any, query string, args ...any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	args = append(args, string(data))

	err = s.retryOnBusy(func() error {
		_, err := s.db.Exec(query, args...)
		return err
	}, maxBusyRetries)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}
	return nil
}

// get loads the data column of a single row
func get[T any](s *SQLiteStore, kind, query, id string) (*T, error) {
	var data string
	err := s.db.QueryRow(query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s not found: %s", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}

	var record T
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return &record, nil
}

// list loads the data column of every matching row, skipping rows that fail to decode
func list[T any](s *SQLiteStore, kind, query string, args ...any) ([]*T, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	records := make([]*T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}

		var record T
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// SaveAgreementReport saves an agreement report to the database
func (s *SQLiteStore) SaveAgreementReport(report *models.AgreementReport) error {
	query := `
		INSERT OR REPLACE INTO agreement_reports (id, project_id, layer, feature, measure, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return s.save("agreement report", report, query,
		report.ID,
		report.ProjectID,
		report.Layer,
		report.Feature,
		report.Measure,
		report.CreatedAt,
	)
}

// GetAgreementReport retrieves an agreement report by ID
func (s *SQLiteStore) GetAgreementReport(id string) (*models.AgreementReport, error) {
	return get[models.AgreementReport](s, "agreement report", `SELECT data FROM agreement_reports WHERE id = ?`, id)
}

// ListAgreementReports lists all agreement reports, newest first
func (s *SQLiteStore) ListAgreementReports() ([]*models.AgreementReport, error) {
	return list[models.AgreementReport](s, "agreement reports", `SELECT data FROM agreement_reports ORDER BY created_at DESC`)
}

// ListAgreementReportsByProject lists the agreement reports of a project
func (s *SQLiteStore) ListAgreementReportsByProject(projectID string) ([]*models.AgreementReport, error) {
	return list[models.AgreementReport](s, "agreement reports",
		`SELECT data FROM agreement_reports WHERE project_id = ? ORDER BY created_at DESC`, projectID)
}

// DeleteAgreementReport deletes an agreement report
func (s *SQLiteStore) DeleteAgreementReport(id string) error {
	_, err := s.db.Exec(`DELETE FROM agreement_reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agreement report: %w", err)
	}
	return nil
}

// SaveEvaluation saves a recommender evaluation
func (s *SQLiteStore) SaveEvaluation(record *models.EvaluationRecord) error {
	query := `
		INSERT OR REPLACE INTO evaluations (id, recommender_id, tool, skipped, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return s.save("evaluation", record, query,
		record.ID,
		record.RecommenderID,
		record.Tool,
		record.Skipped,
		record.CreatedAt,
	)
}

// GetEvaluation retrieves an evaluation by ID
func (s *SQLiteStore) GetEvaluation(id string) (*models.EvaluationRecord, error) {
	return get[models.EvaluationRecord](s, "evaluation", `SELECT data FROM evaluations WHERE id = ?`, id)
}

// ListEvaluationsByRecommender lists the evaluations of a recommender, newest first
func (s *SQLiteStore) ListEvaluationsByRecommender(recommenderID string) ([]*models.EvaluationRecord, error) {
	return list[models.EvaluationRecord](s, "evaluations",
		`SELECT data FROM evaluations WHERE recommender_id = ? ORDER BY created_at DESC`, recommenderID)
}

// SaveTrainingTask saves a training task
func (s *SQLiteStore) SaveTrainingTask(task *models.TrainingTask) error {
	query := `
		INSERT OR REPLACE INTO training_tasks (id, recommender_id, user_name, status, submitted_at, completed_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var completedAt any
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	return s.save("training task", task, query,
		task.ID,
		task.RecommenderID,
		task.User,
		string(task.Status),
		task.SubmittedAt,
		completedAt,
	)
}

// GetTrainingTask retrieves a training task by ID
func (s *SQLiteStore) GetTrainingTask(id string) (*models.TrainingTask, error) {
	return get[models.TrainingTask](s, "training task", `SELECT data FROM training_tasks WHERE id = ?`, id)
}

// ListTrainingTasks lists all training tasks, newest first
func (s *SQLiteStore) ListTrainingTasks() ([]*models.TrainingTask, error) {
	return list[models.TrainingTask](s, "training tasks", `SELECT data FROM training_tasks ORDER BY submitted_at DESC`)
}

// ListTrainingTasksByUser lists the training tasks of a user
func (s *SQLiteStore) ListTrainingTasksByUser(user string) ([]*models.TrainingTask, error) {
	return list[models.TrainingTask](s, "training tasks",
		`SELECT data FROM training_tasks WHERE user_name = ? ORDER BY submitted_at DESC`, user)
}
