package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/mimir-aip/mimir-curation/pkg/models"
)

// Queue provides in-memory training task queue operations with priority support
type Queue struct {
	mu       sync.RWMutex
	pq       *PriorityQueue
	tasks    map[string]*models.TrainingTask
	pending  map[string]string // Maps user/recommender to the queued task ID
	sequence uint64
}

// NewQueue creates a new in-memory queue instance
func NewQueue() *Queue {
	pq := make(PriorityQueue, 0)
	heap.Init(&pq)

	return &Queue{
		pq:      &pq,
		tasks:   make(map[string]*models.TrainingTask),
		pending: make(map[string]string),
	}
}

func pendingKey(task *models.TrainingTask) string {
	return task.User + "\x1f" + task.RecommenderID
}

// Enqueue adds a training task to the queue. If the same user already has a queued task
// for the recommender, that task is returned instead and its priority is raised if needed.
func (q *Queue) Enqueue(task *models.TrainingTask) (*models.TrainingTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := pendingKey(task)
	if id, ok := q.pending[key]; ok {
		existing := q.tasks[id]
		if task.Priority > existing.Priority {
			existing.Priority = task.Priority
			for i, item := range *q.pq {
				if item.TaskID == id {
					item.Priority = existing.Priority
					heap.Fix(q.pq, i)
					break
				}
			}
		}
		return existing, false
	}

	if task.Status == "" {
		task.Status = models.TrainingTaskStatusQueued
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}

	q.sequence++
	heap.Push(q.pq, &PriorityQueueItem{
		TaskID:   task.ID,
		Priority: task.Priority,
		sequence: q.sequence,
	})
	q.tasks[task.ID] = task
	q.pending[key] = task.ID

	return task, true
}

// Dequeue retrieves the next training task from the queue, or nil when it is empty
func (q *Queue) Dequeue() (*models.TrainingTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pq.Len() == 0 {
		return nil, nil
	}

	item := heap.Pop(q.pq).(*PriorityQueueItem)
	task, ok := q.tasks[item.TaskID]
	if !ok {
		return nil, fmt.Errorf("training task data not found: %s", item.TaskID)
	}
	delete(q.pending, pendingKey(task))

	// The task stays in q.tasks for status tracking
	return task, nil
}

// GetTask retrieves a training task by ID
func (q *Queue) GetTask(taskID string) (*models.TrainingTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("training task not found: %s", taskID)
	}

	return task, nil
}

// UpdateTaskStatus updates the status of a training task
func (q *Queue) UpdateTaskStatus(taskID string, status models.TrainingTaskStatus, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("training task not found: %s", taskID)
	}

	task.Status = status
	if errorMsg != "" {
		task.ErrorMessage = errorMsg
	}

	now := time.Now()
	switch status {
	case models.TrainingTaskStatusRunning:
		task.StartedAt = &now
	case models.TrainingTaskStatusCompleted, models.TrainingTaskStatusFailed, models.TrainingTaskStatusCancelled:
		task.CompletedAt = &now
	}

	return nil
}

// Update applies a change to a training task while holding the queue lock
func (q *Queue) Update(taskID string, change func(task *models.TrainingTask)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("training task not found: %s", taskID)
	}
	change(task)
	return nil
}

// Snapshot returns a copy of a training task that is safe to read without the lock
func (q *Queue) Snapshot(taskID string) (models.TrainingTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return models.TrainingTask{}, fmt.Errorf("training task not found: %s", taskID)
	}
	snapshot := *task
	snapshot.ContextMessages = append([]string(nil), task.ContextMessages...)
	return snapshot, nil
}

// CancelQueued cancels every queued task of a user and returns how many were cancelled
func (q *Queue) CancelQueued(user string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	remaining := make(PriorityQueue, 0, q.pq.Len())
	cancelled := 0
	now := time.Now()
	for _, item := range *q.pq {
		task := q.tasks[item.TaskID]
		if task.User != user {
			remaining = append(remaining, item)
			continue
		}
		task.Status = models.TrainingTaskStatusCancelled
		task.CompletedAt = &now
		delete(q.pending, pendingKey(task))
		cancelled++
	}
	for i, item := range remaining {
		item.index = i
	}
	heap.Init(&remaining)
	*q.pq = remaining

	return cancelled
}

// QueueLength returns the current length of the training task queue
func (q *Queue) QueueLength() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.pq.Len()
}

// PriorityQueueItem represents an item in the priority queue
type PriorityQueueItem struct {
	TaskID   string
	Priority int    // Higher value = dequeued earlier
	sequence uint64 // Submission order among equal priorities
	index    int    // Index in heap
}

// PriorityQueue implements heap.Interface
type PriorityQueue []*PriorityQueueItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].sequence < pq[j].sequence
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*PriorityQueueItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}
