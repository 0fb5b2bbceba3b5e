package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
	"github.com/mimir-aip/mimir-curation/pkg/metrics"
	"github.com/mimir-aip/mimir-curation/pkg/models"
	"github.com/mimir-aip/mimir-curation/pkg/queue"
	"github.com/mimir-aip/mimir-curation/pkg/recommendation"
)

const pollInterval = time.Second

// TaskStore persists the training history
type TaskStore interface {
	SaveTrainingTask(task *models.TrainingTask) error
	SaveEvaluation(record *models.EvaluationRecord) error
}

// Service runs recommender training and prediction tasks
type Service struct {
	queue    *queue.Queue
	factory  *recommendation.Factory
	source   DocumentSource
	store    TaskStore
	logger   *logging.Logger
	cron     *cron.Cron
	schedule string
	workers  int

	trainPercentage float64
	blockSize       int

	mu           sync.RWMutex
	recommenders map[string]recommendation.Recommender
	predictions  map[string]*recommendation.Predictions

	wake chan struct{}
}

// Option configures a Service
type Option func(*Service)

// WithStore persists tasks and evaluations
func WithStore(store TaskStore) Option {
	return func(s *Service) { s.store = store }
}

// WithWorkers sets the number of tasks processed at once
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRetrainSchedule retrains every enabled recommender for every user on a cron schedule
func WithRetrainSchedule(schedule string) Option {
	return func(s *Service) { s.schedule = schedule }
}

// WithEvaluationSplit sets the split used when evaluating recommenders before training
func WithEvaluationSplit(trainPercentage float64, blockSize int) Option {
	return func(s *Service) {
		s.trainPercentage = trainPercentage
		s.blockSize = blockSize
	}
}

// NewService creates a scheduler service
func NewService(factory *recommendation.Factory, source DocumentSource, opts ...Option) *Service {
	s := &Service{
		queue:           queue.NewQueue(),
		factory:         factory,
		source:          source,
		logger:          logging.GetLogger().WithFields(logging.Component("scheduler")),
		cron:            cron.New(),
		workers:         1,
		trainPercentage: 0.8,
		blockSize:       10,
		recommenders:    make(map[string]recommendation.Recommender),
		predictions:     make(map[string]*recommendation.Predictions),
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRecommender registers a recommender configuration
func (s *Service) AddRecommender(rec recommendation.Recommender) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	known := false
	for _, tool := range s.factory.Tools() {
		if tool == rec.Tool {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("no engine available for tool: %s", rec.Tool)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recommenders[rec.ID] = rec
	return nil
}

// Recommender returns a registered recommender
func (s *Service) Recommender(id string) (recommendation.Recommender, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recommenders[id]
	return rec, ok
}

// Recommenders returns the registered recommenders ordered by id
func (s *Service) Recommenders() []recommendation.Recommender {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]recommendation.Recommender, 0, len(s.recommenders))
	for _, rec := range s.recommenders {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

func triggerPriority(trigger models.TrainingTrigger) int {
	switch trigger {
	case models.TrainingTriggerManual:
		return 2
	case models.TrainingTriggerAnnotation:
		return 1
	default:
		return 0
	}
}

// Enqueue queues a training run of a recommender for a user. A run that is already
// queued for the same user and recommender is returned instead of queueing another.
func (s *Service) Enqueue(user, recommenderID string, trigger models.TrainingTrigger) (models.TrainingTask, error) {
	if user == "" {
		return models.TrainingTask{}, fmt.Errorf("user is required")
	}
	rec, ok := s.Recommender(recommenderID)
	if !ok {
		return models.TrainingTask{}, fmt.Errorf("recommender not found: %s", recommenderID)
	}
	if !rec.Enabled {
		return models.TrainingTask{}, fmt.Errorf("recommender %s is disabled", recommenderID)
	}

	task, added := s.queue.Enqueue(&models.TrainingTask{
		ID:            uuid.New().String(),
		RecommenderID: rec.ID,
		User:          user,
		Trigger:       trigger,
		Priority:      triggerPriority(trigger),
	})
	metrics.SetQueueDepth(s.queue.QueueLength())

	snapshot, err := s.queue.Snapshot(task.ID)
	if err != nil {
		return models.TrainingTask{}, err
	}
	if added {
		s.persist(snapshot)
		s.logger.Info("Training task queued",
			logging.String("task_id", snapshot.ID),
			logging.String("user", user),
			logging.String("recommender", rec.ID),
			logging.String("trigger", string(trigger)))
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return snapshot, nil
}

// EnqueueAll queues every enabled recommender for every user of the document source
func (s *Service) EnqueueAll(ctx context.Context, trigger models.TrainingTrigger) (int, error) {
	users, err := s.source.Users(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, user := range users {
		for _, rec := range s.Recommenders() {
			if !rec.Enabled {
				continue
			}
			if _, err := s.Enqueue(user, rec.ID, trigger); err != nil {
				return queued, err
			}
			queued++
		}
	}
	return queued, nil
}

// Task returns a copy of a training task
func (s *Service) Task(id string) (models.TrainingTask, error) {
	return s.queue.Snapshot(id)
}

// Predictions returns the current predictions of a user, or nil
func (s *Service) Predictions(user string) *recommendation.Predictions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.predictions[user]
}

// CancelUser cancels the queued tasks of a user
func (s *Service) CancelUser(user string) int {
	n := s.queue.CancelQueued(user)
	metrics.SetQueueDepth(s.queue.QueueLength())
	return n
}

// QueueLength returns the number of queued tasks
func (s *Service) QueueLength() int {
	return s.queue.QueueLength()
}

// Run processes queued tasks until the context is cancelled
func (s *Service) Run(ctx context.Context) error {
	if s.schedule != "" {
		_, err := s.cron.AddFunc(s.schedule, func() {
			n, err := s.EnqueueAll(ctx, models.TrainingTriggerSchedule)
			if err != nil {
				s.logger.Error("Scheduled retraining failed", err)
				return
			}
			s.logger.Info("Scheduled retraining queued", logging.Int("tasks", n))
		})
		if err != nil {
			return fmt.Errorf("invalid retrain schedule: %w", err)
		}
		s.cron.Start()
		defer s.cron.Stop()
		s.logger.Info("Retraining scheduled", logging.String("schedule", s.schedule))
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			s.work(gCtx)
			return nil
		})
	}
	s.logger.Info("Scheduler started", logging.Int("workers", s.workers))
	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

func (s *Service) work(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := s.RunNext(ctx)
		if err != nil {
			s.logger.Error("Failed to dequeue training task", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(pollInterval):
		}
	}
}

// RunNext processes the next queued task and reports whether there was one
func (s *Service) RunNext(ctx context.Context) (bool, error) {
	task, err := s.queue.Dequeue()
	if err != nil {
		return false, err
	}
	metrics.SetQueueDepth(s.queue.QueueLength())
	if task == nil {
		return false, nil
	}
	s.execute(ctx, task.ID, task.User, task.RecommenderID)
	return true, nil
}

// runResult is the outcome of one training run
type runResult struct {
	documents   int
	suggestions int
	messages    []string
}

func (s *Service) execute(ctx context.Context, taskID, user, recommenderID string) {
	start := time.Now()
	if err := s.queue.UpdateTaskStatus(taskID, models.TrainingTaskStatusRunning, ""); err != nil {
		s.logger.Error("Failed to start training task", err, logging.String("task_id", taskID))
		return
	}

	logger := s.logger.WithFields(
		logging.String("task_id", taskID),
		logging.String("user", user),
		logging.String("recommender", recommenderID))

	tool := "unknown"
	var result runResult
	rec, ok := s.Recommender(recommenderID)
	err := fmt.Errorf("recommender not found: %s", recommenderID)
	if ok {
		tool = rec.Tool
		result, err = s.safeProcess(ctx, rec, user, logger)
	}

	status := models.TrainingTaskStatusCompleted
	errorMsg := ""
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = models.TrainingTaskStatusCancelled
		errorMsg = err.Error()
	case err != nil:
		status = models.TrainingTaskStatusFailed
		errorMsg = err.Error()
	}

	elapsed := time.Since(start)
	metrics.RecordTraining(tool, string(status), elapsed)

	if finishErr := s.finish(taskID, result, status, errorMsg); finishErr != nil {
		logger.Error("Failed to record training task outcome", finishErr)
	}

	if err != nil {
		logger.Error("Training task failed", err, logging.String("status", string(status)))
		return
	}
	logger.Info("Training task completed",
		logging.Int("documents", result.documents),
		logging.Int("suggestions", result.suggestions),
		logging.Float("duration_seconds", elapsed.Seconds()))
}

// finish records the outcome of a run on the queued task and persists it
func (s *Service) finish(taskID string, result runResult, status models.TrainingTaskStatus, errorMsg string) error {
	if err := s.queue.Update(taskID, func(task *models.TrainingTask) {
		task.DocumentCount = result.documents
		task.SuggestionCount = result.suggestions
		task.ContextMessages = result.messages
	}); err != nil {
		return err
	}
	if err := s.queue.UpdateTaskStatus(taskID, status, errorMsg); err != nil {
		return err
	}
	snapshot, err := s.queue.Snapshot(taskID)
	if err != nil {
		return err
	}
	s.persist(snapshot)
	return nil
}

// safeProcess runs one recommender and turns a panic into an error so that other
// recommenders keep running
func (s *Service) safeProcess(ctx context.Context, rec recommendation.Recommender, user string, logger *logging.Logger) (result runResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recommendation.NewEngineError(rec.Tool, "run", fmt.Errorf("panic: %v", r))
		}
	}()
	return s.process(ctx, rec, user, logger)
}

func (s *Service) process(ctx context.Context, rec recommendation.Recommender, user string, logger *logging.Logger) (result runResult, err error) {
	engine, err := s.factory.Build(rec)
	if err != nil {
		return result, err
	}

	docs, err := s.source.Documents(ctx, user)
	if err != nil {
		return result, err
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	casses := make([]*cas.CAS, 0, len(names))
	for _, name := range names {
		casses = append(casses, docs[name])
	}
	result.documents = len(casses)

	if engine.IsEvaluable() {
		s.evaluate(ctx, engine, casses, logger)
	}

	rc := recommendation.NewContext(user)
	defer func() {
		for _, m := range rc.Messages() {
			result.messages = append(result.messages, fmt.Sprintf("[%s] %s", m.Level, m.Message))
		}
	}()

	if engine.RequiresTraining() {
		if err := engine.Train(ctx, rc, casses); err != nil {
			rc.Close()
			return result, err
		}
	}
	rc.Close()

	collected := make(map[string][]recommendation.SpanSuggestion, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		c := docs[name]
		if err := engine.Predict(ctx, rc, c); err != nil {
			return result, err
		}
		suggestions := recommendation.ExtractSuggestions(c, name, rec)
		groups := recommendation.GroupSuggestions(suggestions)
		recommendation.HideSuggestionsMatchingAnnotations(groups, c, rec.Layer, rec.Feature)
		collected[name] = suggestions
		result.suggestions += len(suggestions)
	}

	s.publish(user, rec.ID, collected)
	metrics.RecordSuggestions(rec.Tool, result.suggestions)
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, engine recommendation.Engine, casses []*cas.CAS, logger *logging.Logger) {
	splitter, err := recommendation.NewPercentageBasedSplitter(s.trainPercentage, s.blockSize)
	if err != nil {
		logger.Error("Invalid evaluation split", err)
		return
	}

	start := time.Now()
	result, err := engine.Evaluate(ctx, casses, splitter)
	if err != nil {
		logger.Warn("Evaluation failed", logging.Error(err))
		return
	}
	result.Duration = time.Since(start)

	record := result.Record(engine.Recommender())
	if s.store != nil {
		if err := s.store.SaveEvaluation(record); err != nil {
			logger.Error("Failed to save evaluation", err)
		}
	}
	if result.Skipped {
		logger.Info("Evaluation skipped", logging.String("reason", result.SkipReason))
		return
	}
	logger.Info("Evaluation completed",
		logging.Int("training_set_size", result.TrainingSetSize),
		logging.Int("test_set_size", result.TestSetSize),
		logging.Float("accuracy", result.Accuracy()))
}

// publish replaces the suggestions of one recommender in the predictions of a user.
// Suggestions of other recommenders carry over into the new generation.
func (s *Service) publish(user, recommenderID string, collected map[string][]recommendation.SpanSuggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.predictions[user]
	generation := 1
	if old != nil {
		generation = old.Generation() + 1
	}

	next := recommendation.NewPredictions(user, generation)
	if old != nil {
		for _, doc := range old.Documents() {
			var kept []recommendation.SpanSuggestion
			for _, suggestion := range old.Suggestions(doc) {
				if suggestion.RecommenderID != recommenderID {
					kept = append(kept, suggestion)
				}
			}
			if len(kept) > 0 {
				next.Add(doc, kept)
			}
		}
	}
	for doc, suggestions := range collected {
		if len(suggestions) > 0 {
			next.Add(doc, suggestions)
		}
	}
	s.predictions[user] = next
}

func (s *Service) persist(task models.TrainingTask) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveTrainingTask(&task); err != nil {
		s.logger.Error("Failed to save training task", err, logging.String("task_id", task.ID))
	}
}
