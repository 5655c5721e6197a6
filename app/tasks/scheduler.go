package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/rss-intake/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultQueueSize   = 300
	DefaultTaskTimeout = 5 * time.Minute
	maxRetryDelay      = 30 * time.Second
)

var ErrQueueFull = errors.New("task queue is full")

// Scheduler enqueues a poll task for every due feed on each tick and runs
// them on a fixed worker pool. A feed is never queued twice at once.
type Scheduler struct {
	feeds       DueFeedSource
	updater     FeedUpdater
	interval    time.Duration
	workerCount int
	retryDelay  func(retry int) time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewScheduler(feeds DueFeedSource, updater FeedUpdater, interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if workerCount <= 0 {
		workerCount = 1
	}

	return &Scheduler{
		feeds:       feeds,
		updater:     updater,
		interval:    interval,
		workerCount: workerCount,
		retryDelay:  retryDelay,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, DefaultQueueSize),
		inFlight:    make(map[string]struct{}),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.EnqueueDueFeeds()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.EnqueueDueFeeds()
			}
		}
	}()

	slog.Info("Scheduler started", "workers", s.workerCount, "interval", s.interval.String())
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return ErrQueueFull
	}
}

// EnqueueDueFeeds queues a poll for each due feed not already queued or running.
// It returns the number of tasks queued.
func (s *Scheduler) EnqueueDueFeeds() int {
	due, err := s.feeds.GetFeedsDueForUpdate(s.ctx)
	if err != nil {
		slog.Error("Failed to load due feeds", "error", err)
		return 0
	}
	if len(due) == 0 {
		slog.Debug("No feeds due for update")
		return 0
	}

	queued := 0
	for _, f := range due {
		if !s.claim(f.ID) {
			slog.Debug("Feed already queued, skipping", "feed_id", f.ID)
			continue
		}

		if err := s.EnqueueTask(NewPollFeedTask(f, s.updater)); err != nil {
			s.release(f.ID)
			slog.Warn("Failed to enqueue PollFeedTask", "feed_id", f.ID, "error", err)
			continue
		}
		queued++
	}

	slog.Debug("Due feeds enqueued", "due", len(due), "queued", queued)
	return queued
}

func (s *Scheduler) claim(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[feedID]; ok {
		return false
	}
	s.inFlight[feedID] = struct{}{}
	return true
}

func (s *Scheduler) release(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, feedID)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, DefaultTaskTimeout)
	defer cancel()

	err := s.run(taskCtx, task)
	if err == nil {
		s.release(task.GetFeedID())
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "feed_id", task.GetFeedID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() || !feed.IsTransient(err) {
		s.release(task.GetFeedID())
		if task.CanRetry() {
			slog.Debug("Task error is not transient, not retrying", "id", task.GetID(), "feed_id", task.GetFeedID())
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
		return
	}

	task.IncrementRetryCount()
	delay := s.retryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed_id", task.GetFeedID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			s.release(task.GetFeedID())
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				s.release(task.GetFeedID())
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}

func (s *Scheduler) run(ctx context.Context, task TaskInterface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", task.GetID(), r)
		}
	}()
	return task.Execute(ctx)
}

func retryDelay(retry int) time.Duration {
	delay := time.Duration(1<<uint(retry-1)) * time.Second
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
