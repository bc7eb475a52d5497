// Package encoders turns utilization samples into the wire formats downstream
// collectors consume.
package encoders

import (
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"go.uber.org/zap"
)

// LineEncoder accumulates a batch of InfluxDB line-protocol points. A field
// value the protocol cannot represent is dropped with an error log rather
// than poisoning the whole batch.
type LineEncoder struct {
	enc lineprotocol.Encoder
	log *zap.Logger
}

// NewLineEncoder returns an encoder with millisecond timestamps.
func NewLineEncoder(log *zap.Logger) *LineEncoder {
	e := &LineEncoder{log: log}
	e.enc.SetPrecision(lineprotocol.Millisecond)
	e.enc.SetLax(true)
	return e
}

// StartLine opens a new point for the given measurement.
func (e *LineEncoder) StartLine(measurement string) {
	e.enc.StartLine(measurement)
}

// AddTag attaches a tag to the current point. Tags must precede fields.
func (e *LineEncoder) AddTag(key, value string) {
	e.enc.AddTag(key, value)
}

// AddField attaches a field to the current point.
func (e *LineEncoder) AddField(key string, value any) {
	v, ok := lineprotocol.NewValue(value)
	if !ok {
		e.log.Error("dropping unencodable field", zap.String("key", key), zap.Any("value", value))
		return
	}
	e.enc.AddField(key, v)
}

// EndLine stamps and closes the current point.
func (e *LineEncoder) EndLine(ts time.Time) {
	e.enc.EndLine(ts)
}

// Bytes returns the encoded batch.
func (e *LineEncoder) Bytes() []byte {
	return e.enc.Bytes()
}

// Err returns the first encoding error, if any.
func (e *LineEncoder) Err() error {
	return e.enc.Err()
}
