// Package queue provides the persistent log of mutations taken while the Remote API was unreachable.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/fieldcount/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/uuid"
)

// Bucket is the store bucket holding pending actions.
var Bucket = models.PendingAction{}.TableName()

// ActionLog is a durable FIFO of pending actions.
// Actions are appended once and removed once; nothing edits them in place.
type ActionLog struct {
	store   *db.Store
	maxSize int
	now     func() time.Time

	// appendMu makes the quota check and the insert one step.
	appendMu sync.Mutex
}

// NewActionLog creates an ActionLog on store. maxSize <= 0 disables the entry quota.
func NewActionLog(store *db.Store, maxSize int) *ActionLog {
	return &ActionLog{
		store:   store,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Append durably records a new pending action and returns it with its generated ID.
// Any failure is a STORAGE_ERROR: the caller must surface it, the write is otherwise lost.
func (l *ActionLog) Append(ctx context.Context, kind models.ActionKind, endpoint string, payload json.RawMessage) (*models.PendingAction, error) {
	return l.AppendWithID(ctx, models.UUID(uuid.New()), kind, endpoint, payload)
}

// AppendWithID is Append for a write that already went out under id as its idempotency key.
// The drain replays it under the same key.
func (l *ActionLog) AppendWithID(ctx context.Context, id models.UUID, kind models.ActionKind, endpoint string, payload json.RawMessage) (*models.PendingAction, error) {
	if err := uuid.Validate(string(id)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid pending action id", err)
	}
	action := &models.PendingAction{
		ID:         id,
		Kind:       kind,
		Endpoint:   endpoint,
		Payload:    payload,
		EnqueuedAt: l.now().UnixNano(),
	}
	if err := action.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid pending action", err)
	}

	data, err := json.Marshal(action)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload is not valid JSON", err)
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	if l.maxSize > 0 {
		n, err := l.store.Count(ctx, Bucket)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "action log unavailable", err)
		}
		if n >= l.maxSize {
			logging.Warn("Action log quota reached",
				map[string]interface{}{"max_size": l.maxSize, "endpoint": endpoint})
			return nil, apperrors.New(apperrors.ErrStorage,
				fmt.Sprintf("action log is full (max size: %d)", l.maxSize))
		}
	}

	seq, err := l.store.Insert(ctx, Bucket, string(action.ID), data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to persist pending action", err)
	}
	action.Seq = seq

	logging.Info("Enqueued pending action",
		map[string]interface{}{"id": action.ID, "kind": action.Kind, "endpoint": action.Endpoint})

	return action, nil
}

// List returns all pending actions in insertion (FIFO) order.
func (l *ActionLog) List(ctx context.Context) ([]*models.PendingAction, error) {
	objects, err := l.store.GetAll(ctx, Bucket)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending actions", err)
	}

	actions := make([]*models.PendingAction, 0, len(objects))
	for _, obj := range objects {
		var action models.PendingAction
		if err := json.Unmarshal(obj.Value, &action); err != nil {
			// A corrupt row is kept for inspection rather than dropped.
			logging.Error("Skipping unreadable pending action", err,
				map[string]interface{}{"id": obj.Key})
			continue
		}
		action.Seq = obj.Seq
		actions = append(actions, &action)
	}
	return actions, nil
}

// Remove deletes the action with id. Removing an unknown id succeeds.
func (l *ActionLog) Remove(ctx context.Context, id models.UUID) error {
	if err := l.store.Delete(ctx, Bucket, string(id)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to remove pending action", err)
	}
	logging.Debug("Removed pending action", map[string]interface{}{"id": id})
	return nil
}

// Size returns the number of pending actions.
func (l *ActionLog) Size(ctx context.Context) (int, error) {
	n, err := l.store.Count(ctx, Bucket)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count pending actions", err)
	}
	return n, nil
}
