package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/NexusGPU/reserva/internal/model"
)

// NewMemory returns a Store backed by process memory. It serves tests and
// single-process deployments that do not want a MySQL dependency; commits are
// serialized by a single mutex, which trivially satisfies the exclusivity
// contract of ReservationStore.Commit.
func NewMemory() *Store {
	m := &memory{
		machines:     map[string]model.Machine{},
		reservations: map[string]model.Reservation{},
		users:        map[string]model.User{},
	}
	return &Store{
		Machines:     (*memMachines)(m),
		Reservations: (*memReservations)(m),
		Users:        (*memUsers)(m),
		Audit:        (*memAudit)(m),
	}
}

type memory struct {
	mu           sync.Mutex
	machines     map[string]model.Machine
	reservations map[string]model.Reservation
	users        map[string]model.User
	audit        []model.AuditLog
	auditSeq     uint64
}

type memMachines memory

func (s *memMachines) ListActive(_ context.Context, requireGPU bool) ([]model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	machines := lo.Filter(lo.Values(s.machines), func(m model.Machine, _ int) bool {
		return m.Bookable() && (!requireGPU || m.HasGPU)
	})
	sort.Slice(machines, func(i, j int) bool { return machines[i].Name < machines[j].Name })
	return machines, nil
}

func (s *memMachines) List(_ context.Context) ([]model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	machines := lo.Filter(lo.Values(s.machines), func(m model.Machine, _ int) bool {
		return !m.Deleted
	})
	sort.Slice(machines, func(i, j int) bool { return machines[i].Name < machines[j].Name })
	return machines, nil
}

func (s *memMachines) ListDeleted(_ context.Context) ([]model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	machines := lo.Filter(lo.Values(s.machines), func(m model.Machine, _ int) bool {
		return m.Deleted
	})
	sort.Slice(machines, func(i, j int) bool { return machines[i].Name < machines[j].Name })
	return machines, nil
}

func (s *memMachines) Get(_ context.Context, id string) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "machine", ID: id}
	}
	return &m, nil
}

func (s *memMachines) Create(_ context.Context, m *model.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = *m
	return nil
}

func (s *memMachines) SetBlocked(_ context.Context, id string, blocked bool) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "machine", ID: id}
	}
	m.Blocked = blocked
	s.machines[id] = m
	return &m, nil
}

func (s *memMachines) SetDeleted(_ context.Context, id string, deleted bool) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "machine", ID: id}
	}
	if deleted && !m.Deleted {
		refs := lo.CountBy(lo.Values(s.reservations), func(r model.Reservation) bool {
			return r.MachineID == id
		})
		if refs > 0 {
			return nil, model.Conflictf("machine %s is referenced by %d reservation(s) and cannot be deleted", m.Name, refs)
		}
	}
	m.Deleted = deleted
	s.machines[id] = m
	return &m, nil
}

type memReservations memory

func (s *memReservations) overlappingLocked(machineID string, start, end time.Time) []model.Reservation {
	out := lo.Filter(lo.Values(s.reservations), func(r model.Reservation, _ int) bool {
		return r.MachineID == machineID && r.Overlaps(start, end)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BeginDate.Before(out[j].BeginDate) })
	return out
}

func (s *memReservations) ListOverlapping(_ context.Context, machineID string, start, end time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlappingLocked(machineID, start, end), nil
}

func (s *memReservations) Commit(_ context.Context, r *model.Reservation, gate CommitGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[r.MachineID]
	if !ok {
		return &model.NotFoundError{Kind: "machine", ID: r.MachineID}
	}
	if err := gate(m, s.overlappingLocked(r.MachineID, r.BeginDate, r.EndingDate)); err != nil {
		return err
	}
	r.CreatedAt = time.Now()
	s.reservations[r.ID] = *r
	return nil
}

func (s *memReservations) Get(_ context.Context, id string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "reservation", ID: id}
	}
	return &r, nil
}

func (s *memReservations) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[id]; !ok {
		return &model.NotFoundError{Kind: "reservation", ID: id}
	}
	delete(s.reservations, id)
	return nil
}

func (s *memReservations) ListByUser(_ context.Context, userID string) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Filter(lo.Values(s.reservations), func(r model.Reservation, _ int) bool {
		return r.UserID == userID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BeginDate.Before(out[j].BeginDate) })
	return out, nil
}

func (s *memReservations) ListInRange(_ context.Context, start, end time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.Filter(lo.Values(s.reservations), func(r model.Reservation, _ int) bool {
		return !r.BeginDate.Before(start) && !r.BeginDate.After(end)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BeginDate.Before(out[j].BeginDate) })
	return out, nil
}

func (s *memReservations) CountForMachine(_ context.Context, machineID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(lo.CountBy(lo.Values(s.reservations), func(r model.Reservation) bool {
		return r.MachineID == machineID
	})), nil
}

type memUsers memory

func (s *memUsers) Get(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "user", ID: id}
	}
	return &u, nil
}

func (s *memUsers) GetByAccount(_ context.Context, account string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Account == account {
			return &u, nil
		}
	}
	return nil, &model.NotFoundError{Kind: "user", ID: account}
}

func (s *memUsers) List(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := lo.Values(s.users)
	sort.Slice(users, func(i, j int) bool { return users[i].Account < users[j].Account })
	return users, nil
}

func (s *memUsers) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	return nil
}

func (s *memUsers) SetAdmin(_ context.Context, id string, admin bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "user", ID: id}
	}
	u.IsAdmin = admin
	s.users[id] = u
	return &u, nil
}

type memAudit memory

func (s *memAudit) Append(_ context.Context, entry model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	entry.ID = s.auditSeq
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memAudit) ListRecent(_ context.Context, limit int) ([]model.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.audit) {
		limit = len(s.audit)
	}
	out := make([]model.AuditLog, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.audit[len(s.audit)-1-i]
	}
	return out, nil
}

func (s *memAudit) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := lo.Filter(s.audit, func(e model.AuditLog, _ int) bool {
		return !e.Date.Before(cutoff)
	})
	removed := int64(len(s.audit) - len(kept))
	s.audit = kept
	return removed, nil
}
