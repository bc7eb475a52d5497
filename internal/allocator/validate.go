package allocator

import (
	"github.com/NexusGPU/reserva/internal/model"
	"github.com/NexusGPU/reserva/internal/store"
)

// Capacity is what is left of a machine's nameplate capacity over some
// interval after subtracting the reservations committed on it.
type Capacity struct {
	CPUCores int
	RAMGB    int64
	GPURAMGB model.GPUVector
}

// Residual subtracts every reservation in overlapping from m's nameplate
// capacity. Reservations without a GPU vector contribute zero to the GPU
// residual.
func Residual(m model.Machine, overlapping []model.Reservation) Capacity {
	res := Capacity{
		CPUCores: m.CPUCores,
		RAMGB:    m.RAMGB,
		GPURAMGB: m.GPURAMGB.Clone(),
	}
	for _, r := range overlapping {
		res.CPUCores -= r.CPUCores
		res.RAMGB -= r.RAMGB
		for i, gb := range r.GPURAMGB {
			if i < len(res.GPURAMGB) {
				res.GPURAMGB[i] -= gb
			}
		}
	}
	return res
}

// Gate returns the commit-time validator for r: the authoritative re-check run
// atomically with the reservation write. It re-derives residual capacity from
// the overlapping reservations the store observed under its exclusivity scope,
// so a probe result that went stale since probing is rejected here rather than
// overcommitting the machine.
func Gate(r *model.Reservation) store.CommitGate {
	return func(m model.Machine, overlapping []model.Reservation) error {
		if m.Deleted {
			return &model.NotFoundError{Kind: "machine", ID: m.ID}
		}
		if m.Blocked {
			return model.Validationf("machine %s is blocked and cannot accept new reservations", m.Name)
		}
		res := Residual(m, overlapping)
		if res.CPUCores < r.CPUCores {
			return model.Conflictf("machine %s has %d CPU cores free during the requested interval, %d requested", m.Name, res.CPUCores, r.CPUCores)
		}
		if res.RAMGB < r.RAMGB {
			return model.Conflictf("machine %s has %d GB RAM free during the requested interval, %d requested", m.Name, res.RAMGB, r.RAMGB)
		}
		for i, gb := range r.GPURAMGB {
			if i >= len(res.GPURAMGB) {
				return model.Validationf("GPU allocation names device %d but machine %s has %d devices", i, m.Name, len(res.GPURAMGB))
			}
			if gb > res.GPURAMGB[i] {
				return model.Conflictf("GPU device %d on machine %s has %d GB free during the requested interval, %d requested", i, m.Name, res.GPURAMGB[i], gb)
			}
		}
		return nil
	}
}
