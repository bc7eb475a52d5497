// Package store defines the persistence ports the booking core depends on,
// together with a GORM/MySQL implementation and an in-memory one for tests
// and single-process deployments.
package store

import (
	"context"
	"time"

	"github.com/NexusGPU/reserva/internal/model"
)

// MachineStore manages the machine inventory.
type MachineStore interface {
	// ListActive returns machines that accept new bookings (not blocked, not
	// deleted), additionally filtered to GPU-capable ones when requireGPU is
	// set.
	ListActive(ctx context.Context, requireGPU bool) ([]model.Machine, error)
	// List returns every machine that is not soft-deleted, blocked ones
	// included.
	List(ctx context.Context) ([]model.Machine, error)
	// ListDeleted returns soft-deleted machines.
	ListDeleted(ctx context.Context) ([]model.Machine, error)
	Get(ctx context.Context, id string) (*model.Machine, error)
	Create(ctx context.Context, m *model.Machine) error
	SetBlocked(ctx context.Context, id string, blocked bool) (*model.Machine, error)
	// SetDeleted soft-deletes or restores a machine. Deleting is refused with
	// a ConflictError while reservations still reference the machine.
	SetDeleted(ctx context.Context, id string, deleted bool) (*model.Machine, error)
}

// CommitGate re-validates a reservation against the machine and the
// reservations overlapping its interval, inside whatever exclusivity scope the
// store provides. Returning an error aborts the commit without a write.
type CommitGate func(m model.Machine, overlapping []model.Reservation) error

// ReservationStore manages committed reservations.
type ReservationStore interface {
	// ListOverlapping returns reservations on machineID intersecting
	// [start, end) under half-open semantics.
	ListOverlapping(ctx context.Context, machineID string, start, end time.Time) ([]model.Reservation, error)
	// Commit persists r after gate approves it. Gate evaluation and the write
	// are atomic with respect to other commits on the same machine, so two
	// racing commits cannot both pass a capacity check the machine can only
	// satisfy once.
	Commit(ctx context.Context, r *model.Reservation, gate CommitGate) error
	Get(ctx context.Context, id string) (*model.Reservation, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	ListInRange(ctx context.Context, start, end time.Time) ([]model.Reservation, error)
	CountForMachine(ctx context.Context, machineID string) (int64, error)
}

// UserStore manages the known members.
type UserStore interface {
	Get(ctx context.Context, id string) (*model.User, error)
	GetByAccount(ctx context.Context, account string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Create(ctx context.Context, u *model.User) error
	SetAdmin(ctx context.Context, id string, admin bool) (*model.User, error)
}

// AuditStore is an append-only sink for audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry model.AuditLog) error
	ListRecent(ctx context.Context, limit int) ([]model.AuditLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles the four ports a fully wired service needs.
type Store struct {
	Machines     MachineStore
	Reservations ReservationStore
	Users        UserStore
	Audit        AuditStore
}
