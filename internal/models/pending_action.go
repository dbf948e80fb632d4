// Package models provides data model definitions for the offline data layer.
package models

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ActionKind is the mutation verb of a pending action.
type ActionKind string

const (
	ActionCreate ActionKind = "CREATE"
	ActionUpdate ActionKind = "UPDATE"
	ActionDelete ActionKind = "DELETE"
)

// Valid reports whether k is one of the known kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ParseActionKind maps an HTTP method onto an action kind.
// GET, HEAD and OPTIONS are reads and yield ok=false.
func ParseActionKind(method string) (ActionKind, bool) {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return ActionCreate, true
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	}
	return "", false
}

// IsRead reports whether method is a non-mutating HTTP method.
func IsRead(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// PendingAction is a mutation awaiting confirmed delivery to the Remote API.
// Rows are inserted once and deleted once; they are never updated.
type PendingAction struct {
	ID         UUID            `db:"id" json:"id"`
	Seq        int64           `db:"seq" json:"seq"`
	Kind       ActionKind      `db:"kind" json:"kind"`
	Endpoint   string          `db:"endpoint" json:"endpoint"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"` // unix nanoseconds
}

// TableName returns the table name for PendingAction.
func (PendingAction) TableName() string {
	return "pending_actions"
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (a *PendingAction) EnqueuedAtTime() time.Time {
	return time.Unix(0, a.EnqueuedAt)
}

// Validate checks the fields required for dispatch.
func (a *PendingAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("pending action has no id")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("pending action %s has invalid kind %q", a.ID, a.Kind)
	}
	if a.Endpoint == "" {
		return fmt.Errorf("pending action %s has no endpoint", a.ID)
	}
	return nil
}
