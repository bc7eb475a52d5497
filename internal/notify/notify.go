// Package notify publishes booking confirmations to whoever delivers them.
// Delivery (mail, chat, calendar invites) runs outside this process; the
// service only emits events and never fails a booking over a lost one.
package notify

import (
	"context"
	"time"

	"github.com/NexusGPU/reserva/internal/model"
)

// Event is the payload published for a confirmed reservation. The consumer
// renders it into a mail with an attached calendar entry.
type Event struct {
	Kind        string    `json:"kind"`
	Reservation string    `json:"reservation_id"`
	TaskName    string    `json:"task_name"`
	UserName    string    `json:"user_name"`
	UserMail    string    `json:"user_mail"`
	MachineID   string    `json:"machine_id"`
	MachineName string    `json:"machine_name"`
	BeginDate   time.Time `json:"begin_date"`
	EndingDate  time.Time `json:"ending_date"`
	CPUCores    int       `json:"cpu_cores"`
	RAMGB       int64     `json:"ram_gb"`
	GPURAMGB    []int64   `json:"gpu_ram_gb,omitempty"`
}

// Notifier delivers booking events, best effort.
type Notifier interface {
	ReservationConfirmed(ctx context.Context, r model.Reservation, user model.User, machine model.Machine) error
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) ReservationConfirmed(context.Context, model.Reservation, model.User, model.Machine) error {
	return nil
}
