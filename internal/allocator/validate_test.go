package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexusGPU/reserva/internal/model"
)

func mustReservation(t *testing.T, m model.Machine, cpu int, ram int64, gpus model.GPUVector) *model.Reservation {
	t.Helper()
	user := model.User{ID: "u1", Account: "jdoe", Name: "J. Doe"}
	r, err := model.NewReservation(user, m, "job", at(10), at(12), cpu, ram, gpus, day)
	require.NoError(t, err)
	return r
}

func TestResidual(t *testing.T) {
	m := model.Machine{ID: "m1", Name: "ampere-01", CPUCores: 16, RAMGB: 64, HasGPU: true, GPUCount: 2, GPURAMGB: model.GPUVector{24, 24}}

	res := Residual(m, nil)
	assert.Equal(t, 16, res.CPUCores)
	assert.Equal(t, int64(64), res.RAMGB)
	assert.Equal(t, model.GPUVector{24, 24}, res.GPURAMGB)

	res = Residual(m, []model.Reservation{
		{CPUCores: 4, RAMGB: 16, GPURAMGB: model.GPUVector{8, 0}},
		{CPUCores: 2, RAMGB: 8, GPURAMGB: model.GPUVector{0, 24}},
	})
	assert.Equal(t, 10, res.CPUCores)
	assert.Equal(t, int64(40), res.RAMGB)
	assert.Equal(t, model.GPUVector{16, 0}, res.GPURAMGB)

	// Residual works on a copy of the nameplate vector.
	assert.Equal(t, model.GPUVector{24, 24}, m.GPURAMGB)
}

func TestGate(t *testing.T) {
	machine := model.Machine{ID: "m1", Name: "ampere-01", CPUCores: 8, RAMGB: 32, HasGPU: true, GPUCount: 2, GPURAMGB: model.GPUVector{24, 24}}

	t.Run("admits when residual capacity covers the request", func(t *testing.T) {
		r := mustReservation(t, machine, 4, 16, model.GPUVector{8, 0})
		gate := Gate(r)
		assert.NoError(t, gate(machine, nil))
		assert.NoError(t, gate(machine, []model.Reservation{
			{CPUCores: 4, RAMGB: 16, GPURAMGB: model.GPUVector{16, 0}},
		}))
	})

	t.Run("rejects cpu shortfall as a conflict", func(t *testing.T) {
		r := mustReservation(t, machine, 6, 8, nil)
		err := Gate(r)(machine, []model.Reservation{{CPUCores: 4, RAMGB: 4}})
		require.Error(t, err)
		assert.True(t, model.IsConflict(err))
	})

	t.Run("rejects ram shortfall as a conflict", func(t *testing.T) {
		r := mustReservation(t, machine, 2, 24, nil)
		err := Gate(r)(machine, []model.Reservation{{CPUCores: 1, RAMGB: 16}})
		require.Error(t, err)
		assert.True(t, model.IsConflict(err))
	})

	t.Run("rejects per-device gpu shortfall as a conflict", func(t *testing.T) {
		r := mustReservation(t, machine, 2, 8, model.GPUVector{20, 0})
		err := Gate(r)(machine, []model.Reservation{
			{CPUCores: 1, RAMGB: 1, GPURAMGB: model.GPUVector{8, 0}},
		})
		require.Error(t, err)
		assert.True(t, model.IsConflict(err))
	})

	t.Run("total gpu headroom does not excuse a per-device shortfall", func(t *testing.T) {
		r := mustReservation(t, machine, 2, 8, model.GPUVector{24, 0})
		err := Gate(r)(machine, []model.Reservation{
			{CPUCores: 1, RAMGB: 1, GPURAMGB: model.GPUVector{4, 0}},
		})
		require.Error(t, err)
		assert.True(t, model.IsConflict(err))
	})

	t.Run("rejects deleted machine as not found", func(t *testing.T) {
		r := mustReservation(t, machine, 2, 8, nil)
		gone := machine
		gone.Deleted = true
		err := Gate(r)(gone, nil)
		require.Error(t, err)
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("rejects blocked machine as validation", func(t *testing.T) {
		r := mustReservation(t, machine, 2, 8, nil)
		blocked := machine
		blocked.Blocked = true
		err := Gate(r)(blocked, nil)
		require.Error(t, err)
		assert.True(t, model.IsValidation(err))
	})
}
