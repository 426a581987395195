package monitors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-ir/internal/classify"
	"github.com/miradorstack/mirador-ir/internal/models"
)

// WorkflowListener consumes workflow-failure events from the webhook channel
// and turns each into a candidate.
type WorkflowListener struct {
	logger    *slog.Logger
	matcher   *classify.Matcher
	submitter Submitter
	failures  <-chan models.WorkflowFailure
	now       func() time.Time
}

// NewWorkflowListener constructs a WorkflowListener reading from failures.
func NewWorkflowListener(logger *slog.Logger, matcher *classify.Matcher, submitter Submitter,
	failures <-chan models.WorkflowFailure) *WorkflowListener {

	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowListener{
		logger:    logger,
		matcher:   matcher,
		submitter: submitter,
		failures:  failures,
		now:       time.Now,
	}
}

// Name implements Monitor.
func (w *WorkflowListener) Name() string { return "workflow-failure" }

// Run implements Monitor.
func (w *WorkflowListener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case failure, ok := <-w.failures:
			if !ok {
				return
			}
			w.Handle(failure)
		}
	}
}

// Handle submits one workflow failure.
func (w *WorkflowListener) Handle(failure models.WorkflowFailure) {
	subject := failure.Workflow
	if failure.Task != "" {
		subject = fmt.Sprintf("%s/%s", failure.Workflow, failure.Task)
	}
	raw := fmt.Sprintf("ERROR: workflow %s failed: %s", subject, failure.Error)

	sig := models.Signal{Timestamp: w.now(), Origin: failure.Workflow, RawText: raw}
	submitSignal(w.logger, w.matcher, w.submitter, w.Name(), sig,
		models.SourceWorkflowFailure, failure.Agents, failure.Services)
}
