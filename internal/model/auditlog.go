package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of audited administrative or booking operation.
type Action string

const (
	ActionCreateReservation Action = "Create reservation"
	ActionDeleteReservation Action = "Delete reservation"
	ActionCreateMachine     Action = "Create machine"
	ActionDeleteMachine     Action = "Delete machine"
	ActionRestoreMachine    Action = "Restore machine"
	ActionBlockMachine      Action = "Block machine"
	ActionUnblockMachine    Action = "Unblock machine"
	ActionGrantAdmin        Action = "Grant admin status"
	ActionRevokeAdmin       Action = "Revoke admin status"
)

// AuditLog is an append-only record of who did what. Writes are best effort:
// a failed append never rolls back the operation it describes.
type AuditLog struct {
	ID            uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	CorrelationID string    `json:"correlation_id" gorm:"size:36"`
	Date          time.Time `json:"date" gorm:"index"`
	UserName      string    `json:"user_name" gorm:"size:128"`
	Action        Action    `json:"action" gorm:"size:64"`
	Entity        string    `json:"entity" gorm:"type:json"`
}

// NewAuditLog snapshots entity as JSON into a new log entry.
func NewAuditLog(userName string, action Action, entity any, now time.Time) AuditLog {
	snapshot, err := json.Marshal(entity)
	if err != nil {
		snapshot = []byte(`{}`)
	}
	return AuditLog{
		CorrelationID: uuid.NewString(),
		Date:          now,
		UserName:      userName,
		Action:        action,
		Entity:        string(snapshot),
	}
}
