package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// Store reads and writes one plan document on disk. Reads and writes are
// blocking; a single Store serialises its own read-modify-write cycles.
type Store struct {
	path   string
	format Format
	now    func() time.Time
	mu     sync.Mutex
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for lifecycle timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithFormat sets the block encoding used when a document has no block yet.
func WithFormat(format Format) StoreOption {
	return func(s *Store) {
		if format != "" {
			s.format = format
		}
	}
}

// NewStore builds a store for the plan document at path.
func NewStore(path string, opts ...StoreOption) *Store {
	store := &Store{
		path:   path,
		format: FormatJSON,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Path returns the plan document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the plan document.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Document, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, fmt.Errorf("artifact: read plan %s: %w", s.path, err)
	}
	doc, err := ParseDocument(content)
	if err != nil {
		return Document{}, fmt.Errorf("artifact: parse plan %s: %w", s.path, err)
	}
	return doc, nil
}

// Save renders doc and replaces the file atomically.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *Store) save(doc Document) error {
	content, err := doc.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".plan-*.tmp")
	if err != nil {
		return fmt.Errorf("artifact: stage plan: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: stage plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: stage plan: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// SaveTaskList writes list into the existing document, keeping its narrative.
// A missing file, or a file without a data block, gains a new block.
func (s *Store) SaveTaskList(list workflow.WorkflowTaskList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.openForWrite()
	if err != nil {
		return err
	}
	doc.Data = list
	return s.save(doc)
}

func (s *Store) openForWrite() (Document, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(workflow.WorkflowTaskList{}, s.format), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("artifact: read plan %s: %w", s.path, err)
	}
	doc, err := ParseDocument(content)
	if errors.Is(err, ErrMissingBlock) {
		doc.Format = s.format
		return doc, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("artifact: parse plan %s: %w", s.path, err)
	}
	return doc, nil
}

// Update loads the plan, applies fn, and writes the result back. Nothing is
// written when fn fails.
func (s *Store) Update(fn func(*workflow.WorkflowTaskList) error) (workflow.WorkflowTaskList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return workflow.WorkflowTaskList{}, err
	}
	if err := fn(&doc.Data); err != nil {
		return workflow.WorkflowTaskList{}, err
	}
	if err := s.save(doc); err != nil {
		return workflow.WorkflowTaskList{}, err
	}
	return doc.Data.Clone(), nil
}

// SetTaskStatus persists a single status change. Starting or completing a
// task clears a failure noted by RecordFailure. Completing the last open task
// stamps the plan's completed_at.
func (s *Store) SetTaskStatus(taskID string, status workflow.TaskStatus) error {
	_, err := s.Update(func(list *workflow.WorkflowTaskList) error {
		if err := list.ApplyUpdate(workflow.TaskUpdate{TaskID: taskID, Status: status}); err != nil {
			return err
		}
		if status == workflow.StatusInProgress || status == workflow.StatusCompleted {
			if task, ok := list.Task(taskID); ok {
				clearFailure(task)
			}
		}
		if status == workflow.StatusCompleted && allCompleted(list.Tasks) && list.CompletedAt == nil {
			list.MarkCompleted(s.now())
		}
		return nil
	})
	return err
}

// RecordFailure returns a failed task to pending and notes the reason in its
// metadata so a later run can retry it.
func (s *Store) RecordFailure(taskID, reason string) error {
	_, err := s.Update(func(list *workflow.WorkflowTaskList) error {
		task, ok := list.Task(taskID)
		if !ok {
			return fmt.Errorf("%w: %s", workflow.ErrTaskNotFound, taskID)
		}
		task.Status = workflow.StatusPending
		if task.Metadata == nil {
			task.Metadata = map[string]any{}
		}
		task.Metadata["lastFailure"] = reason
		task.Metadata["failedAt"] = formatTime(s.now())
		return nil
	})
	return err
}

// MarkExecuted stamps executed_at when a run starts.
func (s *Store) MarkExecuted() error {
	_, err := s.Update(func(list *workflow.WorkflowTaskList) error {
		list.MarkExecuted(s.now())
		return nil
	})
	return err
}

func clearFailure(task *workflow.Task) {
	delete(task.Metadata, "lastFailure")
	delete(task.Metadata, "failedAt")
	if len(task.Metadata) == 0 {
		task.Metadata = nil
	}
}

func allCompleted(tasks []workflow.Task) bool {
	for _, task := range tasks {
		if task.Status != workflow.StatusCompleted {
			return false
		}
	}
	return len(tasks) > 0
}
