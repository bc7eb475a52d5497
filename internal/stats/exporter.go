package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/stats/encoders"
)

// Sink receives a batch of line-protocol encoded samples.
type Sink func(ctx context.Context, lines []byte) error

// Exporter periodically encodes machine utilization as InfluxDB line protocol
// and hands the batch to a sink (Redis channel, file, collector agent).
type Exporter struct {
	svc  *Service
	sink Sink
	log  *zap.Logger
}

// NewExporter creates an exporter pushing snapshots from svc into sink.
func NewExporter(svc *Service, sink Sink, log *zap.Logger) *Exporter {
	return &Exporter{svc: svc, sink: sink, log: log.Named("stats-exporter")}
}

// Snapshot encodes one utilization sample per machine and pushes the batch.
func (e *Exporter) Snapshot(ctx context.Context) error {
	uses, err := e.svc.CurrentUse(ctx)
	if err != nil {
		return err
	}

	enc := encoders.NewLineEncoder(e.log)
	now := time.Now()
	for _, use := range uses {
		enc.StartLine("machine_use")
		enc.AddTag("machine", use.Machine.Name)
		enc.AddField("cpu_percent", use.UsedCPUPercent)
		enc.AddField("ram_percent", use.UsedRAMPercent)
		enc.AddField("gpu_percent", use.UsedGPUPercent)
		enc.EndLine(now)
	}
	if err := enc.Err(); err != nil {
		return err
	}
	if len(uses) == 0 {
		return nil
	}
	return e.sink(ctx, enc.Bytes())
}
