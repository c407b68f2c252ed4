package delegation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/kingrea/lattice-waves/internal/artifact"
)

// Handle identifies a dispatched assignment. Completion arrives later as a
// notification carrying TaskID.
type Handle struct {
	ID     string
	TaskID string
	Ref    string
}

// Target accepts assignments. Implementations may launch work elsewhere but
// must return promptly.
type Target interface {
	Dispatch(ctx context.Context, planID string, assignment Assignment) (Handle, error)
}

// TargetFunc adapts a function into a Target.
type TargetFunc func(ctx context.Context, planID string, assignment Assignment) (Handle, error)

// Dispatch calls f.
func (f TargetFunc) Dispatch(ctx context.Context, planID string, assignment Assignment) (Handle, error) {
	return f(ctx, planID, assignment)
}

// WorkOrderKind tags outbox files in their frontmatter.
const WorkOrderKind = "work-order"

// OutboxTarget writes each assignment as a Markdown work order under dir for
// an external launcher to pick up. It never starts processes.
type OutboxTarget struct {
	dir    string
	notify string
	now    func() time.Time
}

// OutboxOption customises an OutboxTarget.
type OutboxOption func(*OutboxTarget)

// WithOutboxClock overrides the timestamp written into work orders.
func WithOutboxClock(clock func() time.Time) OutboxOption {
	return func(o *OutboxTarget) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithNotifyURL records where the launcher should POST task outcomes.
func WithNotifyURL(url string) OutboxOption {
	return func(o *OutboxTarget) {
		o.notify = url
	}
}

// NewOutboxTarget writes work orders into dir.
func NewOutboxTarget(dir string, opts ...OutboxOption) *OutboxTarget {
	target := &OutboxTarget{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(target)
	}
	return target
}

// PathFor returns the work order file for a task id.
func (o *OutboxTarget) PathFor(taskID string) string {
	name := slug.Make(taskID)
	if name == "" {
		name = "task"
	}
	return filepath.Join(o.dir, name+".md")
}

// Dispatch implements Target.
func (o *OutboxTarget) Dispatch(ctx context.Context, planID string, assignment Assignment) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	header := artifact.Header{
		Kind:      WorkOrderKind,
		ID:        assignment.TaskID,
		PlanID:    planID,
		Wave:      assignment.Wave,
		Category:  string(assignment.Category),
		Skills:    assignment.Skills,
		Assignee:  assignment.DefaultAssignee,
		CreatedAt: o.now(),
		Notes: map[string]string{
			"estimate":   assignment.EstimatedLabel(),
			"background": fmt.Sprint(assignment.AlwaysBackground),
		},
	}
	if o.notify != "" {
		header.Notes["notify"] = o.notify
	}
	content, err := artifact.WriteFrontMatter(header, []byte(assignment.Prompt))
	if err != nil {
		return Handle{}, fmt.Errorf("delegation: encode work order %s: %w", assignment.TaskID, err)
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("delegation: prepare outbox: %w", err)
	}
	path := o.PathFor(assignment.TaskID)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Handle{}, fmt.Errorf("delegation: write work order %s: %w", assignment.TaskID, err)
	}
	return Handle{ID: uuid.NewString(), TaskID: assignment.TaskID, Ref: path}, nil
}

// ReadWorkOrder loads a work order written by an OutboxTarget.
func ReadWorkOrder(path string) (artifact.Header, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return artifact.Header{}, "", err
	}
	header, body, err := artifact.ParseFrontMatter(content)
	if err != nil {
		return artifact.Header{}, "", fmt.Errorf("delegation: read work order %s: %w", path, err)
	}
	return header, string(body), nil
}
