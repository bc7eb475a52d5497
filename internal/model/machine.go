package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// GPUVector holds per-device GPU memory amounts in GB, index-aligned with the
// machine's physical devices. Stored as a JSON column.
type GPUVector []int64

// Sum returns the total memory across all devices.
func (v GPUVector) Sum() int64 {
	var total int64
	for _, gb := range v {
		total += gb
	}
	return total
}

// Clone returns an independent copy of the vector.
func (v GPUVector) Clone() GPUVector {
	if v == nil {
		return nil
	}
	out := make(GPUVector, len(v))
	copy(out, v)
	return out
}

// Value implements driver.Valuer.
func (v GPUVector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner.
func (v *GPUVector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("unsupported GPUVector column type %T", src)
	}
}

// Machine is a physical resource pool members book slices of.
type Machine struct {
	ID       string    `json:"id" gorm:"primaryKey;size:32"`
	Name     string    `json:"name" gorm:"size:128;uniqueIndex"`
	CPUCores int       `json:"cpu_cores" gorm:"column:cpu_cores"`
	RAMGB    int64     `json:"ram_gb" gorm:"column:ram_gb"`
	HasGPU   bool      `json:"has_gpu" gorm:"column:has_gpu"`
	GPUCount int       `json:"gpu_count,omitempty" gorm:"column:gpu_count"`
	GPURAMGB GPUVector `json:"gpu_ram_gb,omitempty" gorm:"column:gpu_ram_gb;type:json"`

	// Blocked excludes the machine from future bookings, existing ones stay.
	Blocked bool `json:"blocked"`
	// Deleted is a soft delete; it cannot be set while reservations reference
	// the machine.
	Deleted bool `json:"deleted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMachine validates the nameplate description and returns a Machine with a
// fresh ID. All field constraints are enforced here, once, at the boundary.
func NewMachine(name string, cpuCores int, ramGB int64, gpuRAMGB GPUVector) (*Machine, error) {
	if name == "" {
		return nil, Validationf("machine name must not be empty")
	}
	if cpuCores < 1 {
		return nil, Validationf("machine must have at least 1 CPU core, got %d", cpuCores)
	}
	if ramGB < 1 {
		return nil, Validationf("machine must have at least 1 GB of RAM, got %d", ramGB)
	}
	m := &Machine{
		ID:       shortuuid.New(),
		Name:     name,
		CPUCores: cpuCores,
		RAMGB:    ramGB,
	}
	if len(gpuRAMGB) > 0 {
		for i, gb := range gpuRAMGB {
			if gb < 1 {
				return nil, Validationf("GPU device %d must have positive memory, got %d", i, gb)
			}
		}
		m.HasGPU = true
		m.GPUCount = len(gpuRAMGB)
		m.GPURAMGB = gpuRAMGB.Clone()
	}
	return m, nil
}

// Bookable reports whether the machine accepts new reservations.
func (m *Machine) Bookable() bool {
	return !m.Blocked && !m.Deleted
}
