package metadatastore

import "github.com/mimir-aip/mimir-curation/pkg/models"

// MetadataStore is the interface for curation metadata persistence.
// It keeps agreement reports, recommender evaluations and the training task history.
// Annotation documents themselves are not stored here.
type MetadataStore interface {
	// Agreement report operations
	SaveAgreementReport(report *models.AgreementReport) error
	GetAgreementReport(id string) (*models.AgreementReport, error)
	ListAgreementReports() ([]*models.AgreementReport, error)
	ListAgreementReportsByProject(projectID string) ([]*models.AgreementReport, error)
	DeleteAgreementReport(id string) error

	// Evaluation operations
	SaveEvaluation(record *models.EvaluationRecord) error
	GetEvaluation(id string) (*models.EvaluationRecord, error)
	ListEvaluationsByRecommender(recommenderID string) ([]*models.EvaluationRecord, error)

	// Training task operations
	SaveTrainingTask(task *models.TrainingTask) error
	GetTrainingTask(id string) (*models.TrainingTask, error)
	ListTrainingTasks() ([]*models.TrainingTask, error)
	ListTrainingTasksByUser(user string) ([]*models.TrainingTask, error)

	Close() error
}
