package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/offboarding/internal/config"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/huangang/offboarding/pkg/logger"
)

const (
	TaskTypeSubmission = "rating:submit"
	submissionQueue    = "ratings"
)

// SubmissionKind is the rating command a task carries.
type SubmissionKind string

const (
	SubmissionCreate         SubmissionKind = "create"
	SubmissionUpdateScore    SubmissionKind = "update_score"
	SubmissionUpdateFeedback SubmissionKind = "update_feedback"
)

// SubmissionTask is one rating command sent on behalf of a conversation view.
type SubmissionTask struct {
	SessionID      string            `json:"session_id"`
	ConversationID uint              `json:"conversation_id"`
	Kind           SubmissionKind    `json:"kind"`
	RatingID       uint              `json:"rating_id,omitempty"`
	Score          offboarding.Score `json:"score"`
	Comment        *string           `json:"comment,omitempty"`
}

// Pending returns the queue entry the task was built from.
func (t *SubmissionTask) Pending() offboarding.PendingRating {
	return offboarding.PendingRating{Score: t.Score, Comment: t.Comment}
}

// TaskQueue delivers submission tasks to the processor
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SubmissionTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warn().Err(err).Msg("[TaskQueue] Redis unavailable, falling back to in-process queue")
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] In-process queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	opt := redisOpt(cfg)
	client := asynq.NewClient(opt)

	inspector := asynq.NewInspector(opt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a submission task to the async queue. Tasks are never retried
// by asynq: a failure goes back to the session, which resends the same
// rating itself.
func (q *AsyncQueue) Enqueue(task *SubmissionTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeSubmission, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue(submissionQueue),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Str("session_id", task.SessionID).Str("kind", string(task.Kind)).Msg("[AsyncQueue] Task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

var errNoProcessor = errors.New("task queue has no processor")

// SyncQueue implements TaskQueue in-process, one goroutine per task
type SyncQueue struct {
	mu        sync.RWMutex
	processor func(context.Context, *SubmissionTask) error
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function that runs each task
func (q *SyncQueue) SetProcessor(processor func(context.Context, *SubmissionTask) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = processor
}

// Enqueue runs the task on its own goroutine so the caller never blocks
func (q *SyncQueue) Enqueue(task *SubmissionTask) error {
	q.mu.RLock()
	processor := q.processor
	q.mu.RUnlock()

	if processor == nil {
		return errNoProcessor
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := processor(context.Background(), task); err != nil {
			logger.Debug().Err(err).Str("session_id", task.SessionID).Msg("[SyncQueue] Task processing failed")
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for running tasks to finish
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
