// Package booking is the write side of the reservation system: it turns
// probed slots into committed reservations, cancels them, and carries the
// administrative operations on machines and users. Every state change is
// audited; audit and notification failures never unwind a commit.
package booking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/allocator"
	"github.com/NexusGPU/reserva/internal/model"
	"github.com/NexusGPU/reserva/internal/notify"
	"github.com/NexusGPU/reserva/internal/store"
)

// sideEffectTimeout bounds the post-commit audit/notify dispatch.
const sideEffectTimeout = 10 * time.Second

// Service exposes the probe, commit and cancel operations.
type Service struct {
	store    *store.Store
	resolver *allocator.Resolver
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time

	// sideEffects tracks in-flight post-commit dispatches so shutdown and
	// tests can wait for them.
	sideEffects sync.WaitGroup
}

// NewService wires a booking service over the given store and notifier.
func NewService(st *store.Store, notifier notify.Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		store:    st,
		resolver: allocator.NewResolver(st.Machines, st.Reservations, log),
		notifier: notifier,
		log:      log.Named("booking"),
		now:      time.Now,
	}
}

// Probe enumerates feasible slots for the request. Advisory only: a probed
// slot can be taken by the time it is committed.
func (s *Service) Probe(ctx context.Context, req allocator.Request) ([]allocator.Slot, error) {
	return s.resolver.FindCandidateSlots(ctx, req)
}

// CommitRequest names one concrete slot to book. GPURAMGB is the per-device
// allocation, normally the proposal a probe returned.
type CommitRequest struct {
	MachineID     string          `json:"machine_id"`
	TaskName      string          `json:"task_name"`
	BeginDate     time.Time       `json:"begin_date"`
	DurationHours int             `json:"duration_hours"`
	CPUCores      int             `json:"cpu_cores"`
	RAMGB         int64           `json:"ram_gb"`
	GPURAMGB      model.GPUVector `json:"gpu_ram_gb,omitempty"`
}

// Commit validates req against the machine's nameplate capacity, then runs
// the commit-time gate atomically with the write: residual capacity over the
// exact interval is recomputed from the reservations visible at commit time,
// so a probe gone stale is rejected with a ConflictError instead of
// overcommitting the machine. On success the audit entry and the confirmation
// notification are dispatched outside the commit's failure domain.
func (s *Service) Commit(ctx context.Context, actor model.User, req CommitRequest) (*model.Reservation, error) {
	if req.DurationHours < 1 {
		return nil, model.Validationf("duration must be at least 1 hour, got %d", req.DurationHours)
	}
	machine, err := s.store.Machines.Get(ctx, req.MachineID)
	if err != nil {
		return nil, err
	}
	if machine.Deleted {
		return nil, &model.NotFoundError{Kind: "machine", ID: machine.ID}
	}
	if machine.Blocked {
		return nil, model.Validationf("machine %s is blocked and cannot accept new reservations", machine.Name)
	}

	ending := req.BeginDate.Add(time.Duration(req.DurationHours) * time.Hour)
	reservation, err := model.NewReservation(actor, *machine, req.TaskName, req.BeginDate, ending, req.CPUCores, req.RAMGB, req.GPURAMGB, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.Reservations.Commit(ctx, reservation, allocator.Gate(reservation)); err != nil {
		return nil, err
	}

	s.log.Info("reservation committed",
		zap.String("reservation", reservation.ID),
		zap.String("machine", machine.Name),
		zap.String("user", actor.Account),
		zap.Time("begin", reservation.BeginDate),
		zap.Time("ending", reservation.EndingDate))

	s.dispatch(func(ctx context.Context) {
		s.audit(ctx, actor, model.ActionCreateReservation, reservation)
		if err := s.notifier.ReservationConfirmed(ctx, *reservation, actor, *machine); err != nil {
			s.log.Warn("confirmation notification failed",
				zap.String("reservation", reservation.ID), zap.Error(err))
		}
	})
	return reservation, nil
}

// Cancel deletes a reservation. The owner may cancel a reservation that has
// not ended yet; an administrator may cancel any reservation at any time.
func (s *Service) Cancel(ctx context.Context, actor model.User, reservationID string) error {
	reservation, err := s.store.Reservations.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin && actor.ID != reservation.UserID {
		return &model.AuthorizationError{Reason: "you cannot delete a reservation you did not create"}
	}
	if !actor.IsAdmin && reservation.Ended(s.now()) {
		return &model.AuthorizationError{Reason: "you cannot delete a reservation that already ended"}
	}
	if err := s.store.Reservations.Delete(ctx, reservationID); err != nil {
		return err
	}
	s.dispatch(func(ctx context.Context) {
		s.audit(ctx, actor, model.ActionDeleteReservation, reservation)
	})
	return nil
}

// ListForUser returns the actor's own reservations.
func (s *Service) ListForUser(ctx context.Context, actor model.User) ([]model.Reservation, error) {
	return s.store.Reservations.ListByUser(ctx, actor.ID)
}

// Flush waits for in-flight post-commit dispatches. Called on shutdown.
func (s *Service) Flush() {
	s.sideEffects.Wait()
}

// dispatch runs fn detached from the caller's request: its own goroutine,
// its own deadline, errors observed as warnings only.
func (s *Service) dispatch(fn func(ctx context.Context)) {
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) audit(ctx context.Context, actor model.User, action model.Action, entity any) {
	entry := model.NewAuditLog(actor.Name, action, entity, s.now())
	if err := s.store.Audit.Append(ctx, entry); err != nil {
		s.log.Warn("audit append failed", zap.String("action", string(action)), zap.Error(err))
	}
}
