package booking

import (
	"context"

	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/model"
)

func requireAdmin(actor model.User) error {
	if !actor.IsAdmin {
		return &model.AuthorizationError{Reason: "this operation requires administrator rights"}
	}
	return nil
}

// AddMachine registers a new machine. Admin only.
func (s *Service) AddMachine(ctx context.Context, actor model.User, name string, cpuCores int, ramGB int64, gpuRAMGB model.GPUVector) (*model.Machine, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	machine, err := model.NewMachine(name, cpuCores, ramGB, gpuRAMGB)
	if err != nil {
		return nil, err
	}
	if err := s.store.Machines.Create(ctx, machine); err != nil {
		return nil, err
	}
	s.log.Info("machine added", zap.String("machine", machine.Name), zap.String("by", actor.Account))
	s.dispatch(func(ctx context.Context) {
		s.audit(ctx, actor, model.ActionCreateMachine, machine)
	})
	return machine, nil
}

// SetMachineBlocked blocks or unblocks a machine for future bookings.
// Existing reservations are unaffected. Admin only.
func (s *Service) SetMachineBlocked(ctx context.Context, actor model.User, machineID string, blocked bool) (*model.Machine, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	machine, err := s.store.Machines.SetBlocked(ctx, machineID, blocked)
	if err != nil {
		return nil, err
	}
	action := model.ActionUnblockMachine
	if blocked {
		action = model.ActionBlockMachine
	}
	s.dispatch(func(ctx context.Context) {
		s.audit(ctx, actor, action, machine)
	})
	return machine, nil
}

// SetMachineDeleted soft-deletes or restores a machine. Deleting is refused
// while reservations still reference the machine. Admin only.
func (s *Service) SetMachineDeleted(ctx context.Context, actor model.User, machineID string, deleted bool) (*model.Machine, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	machine, err := s.store.Machines.SetDeleted(ctx, machineID, deleted)
	if err != nil {
		return nil, err
	}
	action := model.ActionRestoreMachine
	if deleted {
		action = model.ActionDeleteMachine
	}
	s.dispatch(func(ctx context.Context) {
		s.audit(ctx, actor, action, machine)
	})
	return machine, nil
}

// DeletedMachines lists soft-deleted machines. Admin only.
func (s *Service) DeletedMachines(ctx context.Context, actor model.User) ([]model.Machine, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.Machines.ListDeleted(ctx)
}

// SetAdminStatus grants or revokes another user's administrator rights.
// Admins cannot change their own status. Admin only.
func (s *Service) SetAdminStatus(ctx context.Context, actor model.User, userID string, isAdmin bool) (*model.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if actor.ID == userID {
		return nil, &model.AuthorizationError{Reason: "you cannot change your own admin status"}
	}
	user, err := s.store.Users.SetAdmin(ctx, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	action := model.ActionRevokeAdmin
	if isAdmin {
		action = model.ActionGrantAdmin
	}
	s.dispatch(func(ctx context.Context) {
		s.audit(ctx, actor, action, user)
	})
	return user, nil
}
