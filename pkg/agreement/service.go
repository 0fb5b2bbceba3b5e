package agreement

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/casdiff"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
	"github.com/mimir-aip/mimir-curation/pkg/metrics"
	"github.com/mimir-aip/mimir-curation/pkg/models"
)

// ReportStore persists agreement reports
type ReportStore interface {
	SaveAgreementReport(report *models.AgreementReport) error
}

// ReportRequest names one layer and feature to compute agreement for
type ReportRequest struct {
	ProjectID string
	Layer     string
	Feature   string
	Measure   string
	Pairwise  bool
	Tagset    []string
}

// Service computes agreement between the CASes of several users
type Service struct {
	engine         *casdiff.Engine
	store          ReportStore
	maxConcurrency int
	defaultMeasure string
	logger         *logging.Logger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithStore persists every report computed through Report
func WithStore(store ReportStore) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

// WithMaxConcurrency bounds the number of reports computed at once
func WithMaxConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithDefaultMeasure sets the measure used when a request names none
func WithDefaultMeasure(name string) ServiceOption {
	return func(s *Service) {
		if name != "" {
			s.defaultMeasure = name
		}
	}
}

// NewService creates an agreement service over the adapters of a registry
func NewService(registry *casdiff.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		maxConcurrency: 4,
		defaultMeasure: MeasureKrippendorffAlphaNominal,
		logger:         logging.GetLogger().WithFields(logging.Component("agreement")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = casdiff.NewEngine(registry,
		casdiff.WithLogger(s.logger),
		casdiff.WithObserver(func(result *casdiff.DiffResult, elapsed time.Duration) {
			summary := result.Summary()
			metrics.RecordDiff(elapsed, summary.Agreement, summary.Disagreement, summary.Incomplete)
		}))
	return s
}

// Diff aligns the CASes of all users
func (s *Service) Diff(ctx context.Context, casByUser map[string]*cas.CAS) (*casdiff.DiffResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.engine.Diff(casByUser)
}

func (s *Service) measure(name string) (Measure, error) {
	if name == "" {
		name = s.defaultMeasure
	}
	return NewMeasure(name)
}

// Full computes a single multi-rater agreement over all users
func (s *Service) Full(ctx context.Context, casByUser map[string]*cas.CAS, layer, feature, measureName string) (*AgreementResult, error) {
	diff, err := s.Diff(ctx, casByUser)
	if err != nil {
		return nil, err
	}
	return s.full(diff, ReportRequest{Layer: layer, Feature: feature, Measure: measureName})
}

// Pairwise computes the agreement of every pair of users
func (s *Service) Pairwise(ctx context.Context, casByUser map[string]*cas.CAS, layer, feature, measureName string) (*PairwiseAnnotationResult, error) {
	diff, err := s.Diff(ctx, casByUser)
	if err != nil {
		return nil, err
	}
	return s.pairwise(ctx, diff, ReportRequest{Layer: layer, Feature: feature, Measure: measureName})
}

func (s *Service) full(diff *casdiff.DiffResult, req ReportRequest) (*AgreementResult, error) {
	measure, err := s.measure(req.Measure)
	if err != nil {
		return nil, err
	}
	raters := diff.CasGroupIDs()
	if measure.Pairwise() && len(raters) != 2 {
		return nil, fmt.Errorf("%s: %w (got %d users); use pairwise agreement instead", measure.Name(), ErrRaterCount, len(raters))
	}
	return s.compute(measure, diff, req, raters)
}

func (s *Service) pairwise(ctx context.Context, diff *casdiff.DiffResult, req ReportRequest) (*PairwiseAnnotationResult, error) {
	measure, err := s.measure(req.Measure)
	if err != nil {
		return nil, err
	}
	raters := diff.CasGroupIDs()
	result := NewPairwiseAnnotationResult(req.Layer, req.Feature, measure.Name(), raters)
	for _, pair := range sortedRaterPairs(raters) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := s.compute(measure, diff, req, pair[:])
		if err != nil {
			return nil, err
		}
		result.Add(pair[0], pair[1], r)
	}
	return result, nil
}

func (s *Service) compute(measure Measure, diff *casdiff.DiffResult, req ReportRequest, raters []string) (*AgreementResult, error) {
	study := BuildCodingStudy(diff, req.Layer, req.Feature, StudyOptions{
		Raters:            raters,
		ExcludeIncomplete: measure.Traits().ExcludeIncomplete,
		Tagset:            req.Tagset,
	})

	value, err := Compute(measure, study)
	switch {
	case err != nil:
		metrics.RecordAgreement(measure.Name(), "error")
		return nil, err
	case math.IsNaN(value):
		metrics.RecordAgreement(measure.Name(), "nan")
	default:
		metrics.RecordAgreement(measure.Name(), "success")
	}

	s.logger.Debug("Computed agreement",
		logging.String("layer", req.Layer),
		logging.String("feature", req.Feature),
		logging.String("measure", measure.Name()),
		logging.Int("items", study.ItemCount()),
		logging.Float("agreement", value))

	return &AgreementResult{
		Type:        req.Layer,
		Feature:     req.Feature,
		Measure:     measure.Name(),
		Study:       study,
		Agreement:   value,
		CasGroupIDs: raters,
	}, nil
}

// Report computes several layer and feature combinations concurrently over one diff and
// persists them when a store is configured. Reports are returned in request order.
func (s *Service) Report(ctx context.Context, casByUser map[string]*cas.CAS, requests ...ReportRequest) ([]*models.AgreementReport, error) {
	diff, err := s.Diff(ctx, casByUser)
	if err != nil {
		return nil, err
	}

	reports := make([]*models.AgreementReport, len(requests))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for i, req := range requests {
		g.Go(func() error {
			report, err := s.report(gCtx, diff, req)
			if err != nil {
				return fmt.Errorf("agreement for %s/%s: %w", req.Layer, req.Feature, err)
			}
			reports[i] = report
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Agreement report failed", err)
		return nil, err
	}

	if s.store != nil {
		for _, report := range reports {
			if err := s.store.SaveAgreementReport(report); err != nil {
				return nil, fmt.Errorf("failed to save agreement report: %w", err)
			}
		}
	}

	s.logger.Info("Agreement reports computed",
		logging.Int("reports", len(reports)),
		logging.Int("users", len(diff.CasGroupIDs())))
	return reports, nil
}

func (s *Service) report(ctx context.Context, diff *casdiff.DiffResult, req ReportRequest) (*models.AgreementReport, error) {
	report := &models.AgreementReport{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		Layer:     req.Layer,
		Feature:   req.Feature,
		Raters:    diff.CasGroupIDs(),
		CreatedAt: time.Now().UTC(),
	}
	sort.Strings(report.Raters)

	if req.Pairwise {
		result, err := s.pairwise(ctx, diff, req)
		if err != nil {
			return nil, err
		}
		report.Measure = result.Measure
		report.Agreement = models.OptionalScore(result.MeanAgreement())
		report.Pairwise = result.Scores()
		return report, nil
	}

	result, err := s.full(diff, req)
	if err != nil {
		return nil, err
	}
	report.Measure = result.Measure
	report.Agreement = models.OptionalScore(result.Agreement)
	report.Study = result.Counts()
	return report, nil
}
