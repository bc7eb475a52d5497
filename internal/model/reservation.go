package model

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Reservation commits a slice of one machine's resources for the half-open
// interval [BeginDate, EndingDate). Reservations are never mutated in place;
// changes are delete-then-recreate.
type Reservation struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	TaskName  string `json:"task_name" gorm:"size:256"`
	UserID    string `json:"user_id" gorm:"size:32;index"`
	UserName  string `json:"user_name" gorm:"size:128"`
	MachineID string `json:"machine_id" gorm:"size:32;index"`

	BeginDate  time.Time `json:"begin_date" gorm:"index"`
	EndingDate time.Time `json:"ending_date" gorm:"index"`

	CPUCores int       `json:"cpu_cores" gorm:"column:cpu_cores"`
	RAMGB    int64     `json:"ram_gb" gorm:"column:ram_gb"`
	GPURAMGB GPUVector `json:"gpu_ram_gb,omitempty" gorm:"column:gpu_ram_gb;type:json"`

	CreatedAt time.Time `json:"created_at"`
}

// NewReservation validates the request against the target machine's nameplate
// capacity and returns a Reservation with a fresh ID. Residual-capacity checks
// against other reservations happen later, at commit time.
func NewReservation(user User, machine Machine, taskName string, begin, ending time.Time, cpuCores int, ramGB int64, gpuRAMGB GPUVector, now time.Time) (*Reservation, error) {
	if taskName == "" {
		return nil, Validationf("task name must not be empty")
	}
	if !ending.After(begin) {
		return nil, Validationf("beginning date must be before the ending date")
	}
	if begin.Before(now) {
		return nil, Validationf("beginning date must be in the future")
	}
	if cpuCores < 1 {
		return nil, Validationf("requested CPU cores must be greater than 0, got %d", cpuCores)
	}
	if cpuCores > machine.CPUCores {
		return nil, Validationf("requested %d CPU cores but machine %s has %d", cpuCores, machine.Name, machine.CPUCores)
	}
	if ramGB < 1 {
		return nil, Validationf("requested RAM must be greater than 0, got %d GB", ramGB)
	}
	if ramGB > machine.RAMGB {
		return nil, Validationf("requested %d GB RAM but machine %s has %d GB", ramGB, machine.Name, machine.RAMGB)
	}
	if gpuRAMGB.Sum() > 0 {
		if !machine.HasGPU {
			return nil, Validationf("machine %s does not have a GPU", machine.Name)
		}
		if len(gpuRAMGB) != len(machine.GPURAMGB) {
			return nil, Validationf("GPU allocation has %d entries but machine %s has %d devices", len(gpuRAMGB), machine.Name, len(machine.GPURAMGB))
		}
		for i, gb := range gpuRAMGB {
			if gb < 0 {
				return nil, Validationf("GPU allocation for device %d must not be negative", i)
			}
			if gb > machine.GPURAMGB[i] {
				return nil, Validationf("requested %d GB on GPU device %d but it has %d GB", gb, i, machine.GPURAMGB[i])
			}
		}
	}
	return &Reservation{
		ID:         shortuuid.New(),
		TaskName:   taskName,
		UserID:     user.ID,
		UserName:   user.Name,
		MachineID:  machine.ID,
		BeginDate:  begin,
		EndingDate: ending,
		CPUCores:   cpuCores,
		RAMGB:      ramGB,
		GPURAMGB:   gpuRAMGB.Clone(),
	}, nil
}

// Overlaps reports whether the reservation's interval intersects [start, end)
// under half-open semantics.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.BeginDate.Before(end) && r.EndingDate.After(start)
}

// Ended reports whether the reservation's interval lies entirely in the past.
func (r *Reservation) Ended(now time.Time) bool {
	return !r.EndingDate.After(now)
}

// DurationHours returns the reservation length in whole hours.
func (r *Reservation) DurationHours() int {
	return int(r.EndingDate.Sub(r.BeginDate) / time.Hour)
}
