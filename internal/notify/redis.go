package notify

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/NexusGPU/reserva/internal/model"
)

// Channel is the Redis Pub/Sub channel booking events are published on.
const Channel = "reserva:reservations"

// MetricsChannel carries line-protocol utilization samples from the stats
// exporter.
const MetricsChannel = "reserva:metrics"

// RedisPublisher emits booking events over Redis Pub/Sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(addr string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "connect to redis")
	}
	return &RedisPublisher{client: client}, nil
}

// ReservationConfirmed publishes a confirmation event for r.
func (p *RedisPublisher) ReservationConfirmed(ctx context.Context, r model.Reservation, user model.User, machine model.Machine) error {
	event := Event{
		Kind:        "reservation_confirmed",
		Reservation: r.ID,
		TaskName:    r.TaskName,
		UserName:    user.Name,
		UserMail:    user.Mail,
		MachineID:   machine.ID,
		MachineName: machine.Name,
		BeginDate:   r.BeginDate,
		EndingDate:  r.EndingDate,
		CPUCores:    r.CPUCores,
		RAMGB:       r.RAMGB,
		GPURAMGB:    r.GPURAMGB,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal notification event")
	}
	if err := p.client.Publish(ctx, Channel, data).Err(); err != nil {
		return pkgerrors.Wrap(err, "publish notification event")
	}
	return nil
}

// PublishMetrics forwards a batch of encoded utilization samples.
func (p *RedisPublisher) PublishMetrics(ctx context.Context, lines []byte) error {
	return pkgerrors.Wrap(p.client.Publish(ctx, MetricsChannel, lines).Err(), "publish metrics batch")
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
