package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-passenger/internal/models"
)

// MessageReader is the subset of kafka.Reader used by KafkaSource.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource publishes driver location messages as driver_locations
// updates.
type KafkaSource struct {
	reader MessageReader
	pub    Publisher
	logger *slog.Logger
}

func NewKafkaSource(brokers []string, topic, group string, pub Publisher, logger *slog.Logger) *KafkaSource {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	return &KafkaSource{reader: r, pub: pub, logger: logger}
}

func NewKafkaSourceFromReader(r MessageReader, pub Publisher, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{reader: r, pub: pub, logger: logger}
}

func (k *KafkaSource) Run(ctx context.Context) error {
	defer k.reader.Close()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var loc models.DriverLocation
		if err := json.Unmarshal(m.Value, &loc); err != nil || loc.DriverID == "" {
			k.logger.Warn("invalid driver location message", "error", err)
			continue
		}
		k.pub.Publish(Change{Table: TableDriverLocations, Type: Update, Record: json.RawMessage(m.Value)})
	}
}
