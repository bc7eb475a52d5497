// Package stats aggregates reservation and utilization figures for the admin
// views and for the metrics exporter.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/NexusGPU/reserva/internal/model"
	"github.com/NexusGPU/reserva/internal/store"
)

// Service computes reporting aggregates. Read-only.
type Service struct {
	machines     store.MachineStore
	reservations store.ReservationStore
	now          func() time.Time
}

// NewService creates a stats service over the given stores.
func NewService(machines store.MachineStore, reservations store.ReservationStore) *Service {
	return &Service{
		machines:     machines,
		reservations: reservations,
		now:          time.Now,
	}
}

// WeekReport aggregates reservations for the Monday-based week weeksPrior
// weeks in the past (0 is the current week).
type WeekReport struct {
	Week                   string    `json:"week"`
	MachineNames           []string  `json:"machine_names"`
	ReservationsPerMachine []int     `json:"reservations_per_machine"`
	HoursPerMachine        []float64 `json:"hours_per_machine"`
	TotalReservations      int       `json:"total_reservations"`
	MeanDurationHours      float64   `json:"mean_duration_hours"`
}

// WeekReport builds the per-machine reservation counts and booked hours for
// one past week, plus the mean reservation duration.
func (s *Service) WeekReport(ctx context.Context, weeksPrior int) (*WeekReport, error) {
	if weeksPrior < 0 {
		return nil, model.Validationf("weeks prior must be greater than or equal to 0, got %d", weeksPrior)
	}

	start, end := weekBounds(s.now(), weeksPrior)

	machines, err := s.machines.List(ctx)
	if err != nil {
		return nil, err
	}
	reservations, err := s.reservations.ListInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report := &WeekReport{
		Week:              weekLabel(start, end),
		TotalReservations: len(reservations),
	}

	counts := make(map[string]int, len(machines))
	hours := make(map[string]float64, len(machines))
	var totalHours float64
	for _, r := range reservations {
		d := r.EndingDate.Sub(r.BeginDate).Hours()
		totalHours += d
		counts[r.MachineID]++
		hours[r.MachineID] += d
	}
	if len(reservations) > 0 {
		report.MeanDurationHours = totalHours / float64(len(reservations))
	}

	for _, m := range machines {
		report.MachineNames = append(report.MachineNames, m.Name)
		report.ReservationsPerMachine = append(report.ReservationsPerMachine, counts[m.ID])
		report.HoursPerMachine = append(report.HoursPerMachine, hours[m.ID])
	}
	return report, nil
}

// MachineUse is a machine's live utilization, as percentages of nameplate
// capacity committed by reservations covering the current instant.
type MachineUse struct {
	Machine        model.Machine `json:"machine"`
	UsedCPUPercent float64       `json:"used_cpu_percent"`
	UsedRAMPercent float64       `json:"used_ram_percent"`
	UsedGPUPercent float64       `json:"used_gpu_percent"`
}

// CurrentUse reports utilization for every non-deleted machine right now.
func (s *Service) CurrentUse(ctx context.Context) ([]MachineUse, error) {
	machines, err := s.machines.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	uses := make([]MachineUse, 0, len(machines))
	for _, m := range machines {
		active, err := s.reservations.ListOverlapping(ctx, m.ID, now, now.Add(time.Nanosecond))
		if err != nil {
			return nil, err
		}
		use := MachineUse{Machine: m}
		gpuTotal := m.GPURAMGB.Sum()
		for _, r := range active {
			use.UsedCPUPercent += float64(r.CPUCores) / float64(m.CPUCores) * 100
			use.UsedRAMPercent += float64(r.RAMGB) / float64(m.RAMGB) * 100
			if gpuTotal > 0 {
				use.UsedGPUPercent += float64(r.GPURAMGB.Sum()) / float64(gpuTotal) * 100
			}
		}
		uses = append(uses, use)
	}
	return uses, nil
}

// weekBounds returns the [Monday 00:00, Sunday 23:59:59.999999999] window of
// the week weeksPrior weeks before now, in now's location.
func weekBounds(now time.Time, weeksPrior int) (time.Time, time.Time) {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	monday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -daysSinceMonday-7*weeksPrior)
	end := monday.AddDate(0, 0, 7).Add(-time.Nanosecond)
	return monday, end
}

// weekLabel renders "January 2 - 8", spelling the second month out only when
// the week spans a month boundary.
func weekLabel(start, end time.Time) string {
	if start.Month() == end.Month() {
		return fmt.Sprintf("%s - %d", start.Format("January 2"), end.Day())
	}
	return fmt.Sprintf("%s - %s", start.Format("January 2"), end.Format("January 2"))
}
