package models

import "time"

// AuditLog records who changed a registration and how.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole  string    `db:"actor_role" json:"actor_role"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	Snapshot   []byte    `db:"snapshot" json:"snapshot,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
