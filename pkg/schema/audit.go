package schema

import "time"

// AuditAction identifies the kind of event an audit entry records.
type AuditAction string

const (
	AuditCreate     AuditAction = "create"
	AuditTransition AuditAction = "transition"
	AuditBulkReset  AuditAction = "bulk_reset"
	AuditDelete     AuditAction = "delete"
)

// AuditEntry is an immutable record of one accepted event.
// Actor is stored as plain text so entries stay meaningful after the person is deleted.
type AuditEntry struct {
	ID        string      `json:"id"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`
	OldStatus Status      `json:"old_status,omitempty"`
	NewStatus Status      `json:"new_status,omitempty"`
	Location  *Location   `json:"location,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Summary reports whether the entry describes a roster-wide or administrative
// action rather than a single person's status change.
func (e AuditEntry) Summary() bool {
	return e.Action == AuditBulkReset || e.Action == AuditDelete
}

// DefaultOperator is the actor recorded for administrative actions that do
// not name an operator.
const DefaultOperator = "ADMIN"
