package allocator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/model"
	"github.com/NexusGPU/reserva/internal/store"
)

// Request describes what a member wants to book: a window to search, a task
// duration in whole hours, and the resource quantities the task needs.
// GPURAMGB is the total GPU memory wanted; how it spreads over devices is the
// proposer's job.
type Request struct {
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	DurationHours int       `json:"duration_hours"`
	CPUCores      int       `json:"cpu_cores"`
	RAMGB         int64     `json:"ram_gb"`
	GPURAMGB      int64     `json:"gpu_ram_gb"`
}

// MachineSlot is one machine that can host the request at a given start time.
// IsFree means no reservation overlaps the slot at all; a machine can be
// feasible without being free when its residual capacity still covers the
// request. GPUAllocation is only set for GPU requests.
type MachineSlot struct {
	Machine       model.Machine   `json:"machine"`
	IsFree        bool            `json:"is_free"`
	GPUAllocation model.GPUVector `json:"gpu_allocation,omitempty"`
}

// Slot is one candidate start time with every machine that can host it.
type Slot struct {
	StartTime     time.Time     `json:"start_time"`
	DurationHours int           `json:"duration_hours"`
	Machines      []MachineSlot `json:"machines"`
}

// Resolver enumerates feasible (start time, machine) pairs for a request.
// It only reads; committing a slot is the booking service's job.
type Resolver struct {
	machines     store.MachineStore
	reservations store.ReservationStore
	log          *zap.Logger
	now          func() time.Time
}

// NewResolver creates a resolver over the given stores.
func NewResolver(machines store.MachineStore, reservations store.ReservationStore, log *zap.Logger) *Resolver {
	return &Resolver{
		machines:     machines,
		reservations: reservations,
		log:          log.Named("resolver"),
		now:          time.Now,
	}
}

// Validate checks the request envelope against now. Quantity and window
// violations reject the whole request; they never yield a partial result.
func (req Request) Validate(now time.Time) error {
	if req.WindowStart.IsZero() {
		return model.Validationf("window start must be set")
	}
	if req.WindowStart.Before(now) {
		return model.Validationf("window start cannot be in the past")
	}
	if req.WindowEnd.IsZero() {
		return model.Validationf("window end must be set")
	}
	if !req.WindowEnd.After(req.WindowStart) {
		return model.Validationf("window start must be before the window end")
	}
	if req.DurationHours < 1 {
		return model.Validationf("duration must be at least 1 hour, got %d", req.DurationHours)
	}
	if windowHours := int(req.WindowEnd.Sub(req.WindowStart) / time.Hour); req.DurationHours > windowHours {
		return model.Validationf("duration of %d hours does not fit in the %d hour window", req.DurationHours, windowHours)
	}
	if req.CPUCores < 1 {
		return model.Validationf("requested CPU cores must be greater than 0, got %d", req.CPUCores)
	}
	if req.RAMGB < 1 {
		return model.Validationf("requested RAM must be greater than 0, got %d GB", req.RAMGB)
	}
	if req.GPURAMGB < 0 {
		return model.Validationf("requested GPU RAM must not be negative, got %d GB", req.GPURAMGB)
	}
	return nil
}

// FindCandidateSlots walks every hour step from the window start to the last
// start that still leaves the full duration before the window end (that
// boundary start is included), and for each start returns the machines whose
// residual capacity covers the request. Start times with no feasible machine
// are omitted, as are machines that do not fit; absence is the signal. The
// result is ascending by start time and is a pure function of the reservation
// state the stores expose.
func (r *Resolver) FindCandidateSlots(ctx context.Context, req Request) ([]Slot, error) {
	if err := req.Validate(r.now()); err != nil {
		return nil, err
	}

	machines, err := r.machines.ListActive(ctx, req.GPURAMGB > 0)
	if err != nil {
		return nil, err
	}
	if len(machines) == 0 {
		return nil, nil
	}

	duration := time.Duration(req.DurationHours) * time.Hour
	latestStart := req.WindowEnd.Add(-duration)

	var slots []Slot
	for start := req.WindowStart; !start.After(latestStart); start = start.Add(time.Hour) {
		end := start.Add(duration)

		var feasible []MachineSlot
		for _, m := range machines {
			ms, ok, err := r.evaluate(ctx, m, req, start, end)
			if err != nil {
				return nil, err
			}
			if ok {
				feasible = append(feasible, ms)
			}
		}
		if len(feasible) > 0 {
			slots = append(slots, Slot{
				StartTime:     start,
				DurationHours: req.DurationHours,
				Machines:      feasible,
			})
		}
	}
	r.log.Debug("resolved candidate slots",
		zap.Int("machines", len(machines)),
		zap.Int("slots", len(slots)),
		zap.Time("window_start", req.WindowStart),
		zap.Time("window_end", req.WindowEnd))
	return slots, nil
}

// evaluate decides feasibility of one machine for one slot.
func (r *Resolver) evaluate(ctx context.Context, m model.Machine, req Request, start, end time.Time) (MachineSlot, bool, error) {
	overlapping, err := r.reservations.ListOverlapping(ctx, m.ID, start, end)
	if err != nil {
		return MachineSlot{}, false, err
	}
	res := Residual(m, overlapping)
	if res.CPUCores < req.CPUCores || res.RAMGB < req.RAMGB {
		return MachineSlot{}, false, nil
	}

	ms := MachineSlot{Machine: m, IsFree: len(overlapping) == 0}
	if req.GPURAMGB > 0 {
		if res.GPURAMGB.Sum() < req.GPURAMGB {
			return MachineSlot{}, false, nil
		}
		// The residual vector is already a scratch copy.
		ms.GPUAllocation = ProposeAllocation(req.GPURAMGB, res.GPURAMGB)
	}
	return ms, true, nil
}
