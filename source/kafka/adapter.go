package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rvesse/jena-fuseki-kafka/sink"
)

// ErrOffsetUnavailable reports that the log's retention has outpaced the
// consumer: the earliest retained record is newer than the resume position.
// This is data loss and must be surfaced, never silently skipped over.
var ErrOffsetUnavailable = errors.New("kafka: requested offset no longer available")

// Record is one consumed log record, already translated for dispatch.
type Record struct {
	Offset  int64
	Request *sink.Request
}

// Config carries everything a consumer driver needs for one connector's
// topic partition.
type Config struct {
	Brokers   []string
	Topic     string
	Partition int32
	ClientID  string
	Extra     map[string]string // broker tuning key/value pairs from the connector config
	Tuning    Tuning
}

// Consumer is a positioned, single-partition view of a topic.
type Consumer interface {
	Configure(Config) error
	// Start opens the log connection positioned immediately after lastOffset
	// (earliest available record when lastOffset is -1). Fails with
	// ErrOffsetUnavailable when the position has been compacted away.
	Start(lastOffset int64) error
	// Poll blocks up to timeout for the next batch, max records at most.
	// An empty batch on timeout is the idle steady state, not an error.
	Poll(ctx context.Context, timeout time.Duration, max int) ([]Record, error)
	Close() error
}

/*──────── registry ───────*/

// Factory builds a Consumer (e.g. the sarama driver).
type Factory func() Consumer

var registry = map[string]Factory{}

// Register is called from main for each available driver.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewConsumer returns a driver by name.
func NewConsumer(name string) (Consumer, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported driver %q", name)
}
