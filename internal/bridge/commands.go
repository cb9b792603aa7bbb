package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rollwatch/rollwatch/internal/models"
)

// CommandQueue is the in-memory at-least-once dispatch queue for terminal
// commands. Pending is the dispatch primitive: it stamps dispatched_at once
// and keeps re-returning the command until a terminal execution report
// closes it.
type CommandQueue struct {
	mu       sync.Mutex
	commands map[string]models.Command
	now      func() time.Time
}

// NewCommandQueue creates an empty queue using the wall clock.
func NewCommandQueue() *CommandQueue {
	return NewCommandQueueWithClock(time.Now)
}

// NewCommandQueueWithClock creates an empty queue with an injectable clock.
func NewCommandQueueWithClock(now func() time.Time) *CommandQueue {
	return &CommandQueue{
		commands: make(map[string]models.Command),
		now:      now,
	}
}

// Enqueue stores a command, assigning an id when absent and resetting it to
// PENDING. Re-enqueueing the same id overwrites rather than duplicates.
func (q *CommandQueue) Enqueue(cmd models.Command) models.Command {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	cmd.Status = models.CommandPending
	cmd.CreatedAt = q.now()
	cmd.UpdatedAt = cmd.CreatedAt
	cmd.DispatchedAt = time.Time{}
	cmd.CompletedAt = time.Time{}
	cmd.LastReport = nil

	q.mu.Lock()
	defer q.mu.Unlock()
	q.commands[cmd.ID] = cmd
	return cmd
}

// Pending returns copies of open commands for a terminal poll, oldest first,
// truncated to maxCount (0 means no limit). Each returned command keeps its
// original dispatched_at; only a first dispatch stamps it.
func (q *CommandQueue) Pending(terminalID, accountNumber string, maxCount int) []models.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for id, cmd := range q.commands {
		if cmd.Status.Terminal() || cmd.Status == models.CommandUnknown {
			continue
		}
		if terminalID != "" && cmd.TerminalID != "" && cmd.TerminalID != terminalID {
			continue
		}
		if accountNumber != "" && cmd.AccountNumber != "" && cmd.AccountNumber != accountNumber {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return q.commands[ids[i]].CreatedAt.Before(q.commands[ids[j]].CreatedAt)
	})
	if maxCount > 0 && len(ids) > maxCount {
		ids = ids[:maxCount]
	}

	now := q.now()
	out := make([]models.Command, 0, len(ids))
	for _, id := range ids {
		cmd := q.commands[id]
		if cmd.DispatchedAt.IsZero() {
			cmd.DispatchedAt = now
			cmd.UpdatedAt = now
			q.commands[id] = cmd
		}
		out = append(out, cmd)
	}
	return out
}

// RecordExecutionReport reconciles a terminal report against the queue. An
// unknown command_id materializes a placeholder so the report is not lost.
// Terminal statuses stamp completed_at; PARTIAL updates in place.
func (q *CommandQueue) RecordExecutionReport(report models.ExecutionReport) models.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	report.ReceivedAt = now

	cmd, ok := q.commands[report.CommandID]
	if !ok {
		cmd = models.Command{
			ID:        report.CommandID,
			Status:    models.CommandUnknown,
			CreatedAt: now,
		}
		if report.Status != "" {
			cmd.Status = report.Status
		}
	}

	cmd.LastReport = &report
	cmd.UpdatedAt = now
	if report.Status.Terminal() {
		cmd.Status = report.Status
		cmd.CompletedAt = now
	} else if report.Status == models.CommandPartial {
		cmd.Status = models.CommandPartial
	}

	q.commands[cmd.ID] = cmd
	return cmd
}

// Get returns a copy of the command by id.
func (q *CommandQueue) Get(id string) (models.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmd, ok := q.commands[id]
	return cmd, ok
}

// List returns copies newest-first by created_at, optionally scoped to the
// creating user, truncated to limit (0 means no limit).
func (q *CommandQueue) List(createdBy string, limit int) []models.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.Command, 0, len(q.commands))
	for _, cmd := range q.commands {
		if createdBy != "" && cmd.CreatedBy != createdBy {
			continue
		}
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
