package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/martinsuchenak/asicfleet/internal/log"
)

// Task status values.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskSkipped   = "skipped"
)

// Scheduler runs recurring background tasks on cron schedules.
type Scheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	tasks   map[string]*Task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Task is a registered recurring task.
type Task struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Spec    string     `json:"spec"`
	NextRun time.Time  `json:"next_run"`
	LastRun *time.Time `json:"last_run,omitempty"`
	Status  string     `json:"status"`

	entry   cron.EntryID
	handler TaskHandler
}

// TaskHandler is the function executed by a task. Returning ErrBusy marks
// the tick as skipped rather than failed.
type TaskHandler func(ctx context.Context, taskID string) error

// NewScheduler creates a stopped scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterTask adds a task run on the cron spec (five fields or a
// descriptor such as "@every 5m").
func (s *Scheduler) RegisterTask(id, name, spec string, handler TaskHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("task %s already registered", id)
	}

	task := &Task{ID: id, Name: name, Spec: spec, Status: TaskPending, handler: handler}
	entry, err := s.cron.AddFunc(spec, func() { s.runTask(task) })
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	task.entry = entry
	s.tasks[id] = task

	log.Info("Task registered", "task_id", id, "schedule", spec)
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	log.Info("Starting background scheduler", "tasks", len(s.tasks))
}

// Stop stops scheduling and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Info("Stopping background scheduler")
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

// Tasks returns a snapshot of registered tasks.
func (s *Scheduler) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		c.NextRun = s.cron.Entry(t.entry).Next
		out = append(out, c)
	}
	return out
}

// RunNow executes a task immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	s.runTask(task)
	return nil
}

func (s *Scheduler) runTask(task *Task) {
	s.mu.Lock()
	if task.Status == TaskRunning {
		s.mu.Unlock()
		log.Debug("Task still running, skipping tick", "task_id", task.ID)
		return
	}
	task.Status = TaskRunning
	now := time.Now()
	task.LastRun = &now
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	log.Info("Running task", "task_id", task.ID, "name", task.Name)
	err := task.handler(s.ctx, task.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, ErrBusy):
		task.Status = TaskSkipped
		log.Info("Task skipped, fleet busy", "task_id", task.ID)
	case err != nil:
		task.Status = TaskFailed
		log.Error("Task failed", "task_id", task.ID, "error", err)
	default:
		task.Status = TaskCompleted
		log.Info("Task completed", "task_id", task.ID)
	}
}
