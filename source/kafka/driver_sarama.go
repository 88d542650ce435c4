package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/rvesse/jena-fuseki-kafka/internal/logging"
)

// SaramaDriver consumes one topic partition with an explicit start offset.
// Offset progress lives in the connector's state file, not in Kafka's group
// coordinator, so a plain partition consumer is used rather than a consumer
// group.
type SaramaDriver struct {
	cfg    Config
	sc     *sarama.Config
	client sarama.Client
	cons   sarama.Consumer
	pc     sarama.PartitionConsumer
}

// Configure validates and translates the config. No connection is made until
// Start, so a down broker surfaces as a retryable Start failure rather than a
// configuration error.
func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config

	ver, err := sarama.ParseKafkaVersion(config.Tuning.Version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = config.ClientID
	sc.Consumer.Return.Errors = true
	if config.Tuning.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.Tuning.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.Tuning.SASLUser, config.Tuning.SASLPass
	}
	if config.Tuning.FetchMin > 0 {
		sc.Consumer.Fetch.Min = config.Tuning.FetchMin
	}
	if config.Tuning.FetchMax > 0 {
		sc.Consumer.Fetch.Default = config.Tuning.FetchMax
	}
	if config.Tuning.ChanBufSz > 0 {
		sc.ChannelBufferSize = config.Tuning.ChanBufSz
	}
	applyExtra(sc, config.Extra, config.Topic)
	d.sc = sc
	return nil
}

// applyExtra maps the connector's free-form broker properties onto the sarama
// config. Unknown keys are logged and ignored rather than rejected.
func applyExtra(sc *sarama.Config, extra map[string]string, topic string) {
	for k, v := range extra {
		switch k {
		case "client.id":
			sc.ClientID = v
		case "fetch.min.bytes":
			var n int32
			if _, err := fmt.Sscan(v, &n); err == nil {
				sc.Consumer.Fetch.Min = n
			}
		case "fetch.max.bytes":
			var n int32
			if _, err := fmt.Sscan(v, &n); err == nil {
				sc.Consumer.Fetch.Default = n
			}
		case "max.partition.fetch.bytes":
			var n int32
			if _, err := fmt.Sscan(v, &n); err == nil {
				sc.Consumer.Fetch.Max = n
			}
		case "fetch.max.wait.ms":
			var n int64
			if _, err := fmt.Sscan(v, &n); err == nil {
				sc.Consumer.MaxWaitTime = time.Duration(n) * time.Millisecond
			}
		default:
			logging.L().Warn("sarama-driver: ignoring unsupported kafka property", "topic", topic, "key", k)
		}
	}
}

func (d *SaramaDriver) Start(lastOffset int64) error {
	topic, part := d.cfg.Topic, d.cfg.Partition

	var err error
	if d.client, err = sarama.NewClient(d.cfg.Brokers, d.sc); err != nil {
		return err
	}

	oldest, err := d.client.GetOffset(topic, part, sarama.OffsetOldest)
	if err != nil {
		d.Close()
		return err
	}

	start := lastOffset + 1
	if lastOffset < 0 {
		// Nothing consumed yet; begin at whatever the log still retains.
		if oldest > 0 {
			logging.L().Warn("sarama-driver: earliest retained record is not offset 0",
				"topic", topic, "partition", part, "earliest", oldest)
		}
		start = oldest
	} else if start < oldest {
		d.Close()
		return fmt.Errorf("%w: topic %s[%d] resume position %d, earliest retained %d (%d records lost)",
			ErrOffsetUnavailable, topic, part, start, oldest, oldest-start)
	}

	if d.cons, err = sarama.NewConsumerFromClient(d.client); err != nil {
		d.Close()
		return err
	}
	d.pc, err = d.cons.ConsumePartition(topic, part, start)
	if err != nil {
		d.Close()
		return err
	}
	logging.L().Info("sarama-driver: consuming", "topic", topic, "partition", part, "start_offset", start)
	return nil
}

func (d *SaramaDriver) Poll(ctx context.Context, timeout time.Duration, max int) ([]Record, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var batch []Record
	for {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case <-timer.C:
			return batch, nil
		case err := <-d.pc.Errors():
			return batch, err.Err
		case msg, ok := <-d.pc.Messages():
			if !ok {
				return batch, fmt.Errorf("kafka: partition consumer for %s closed", d.cfg.Topic)
			}
			batch = append(batch, Translate(msg))
			// First record ends the wait; drain whatever else is ready.
			for len(batch) < max {
				select {
				case msg, ok := <-d.pc.Messages():
					if !ok {
						return batch, nil
					}
					batch = append(batch, Translate(msg))
				default:
					return batch, nil
				}
			}
			return batch, nil
		}
	}
}

// Close releases whatever Start managed to open; safe to call repeatedly.
func (d *SaramaDriver) Close() error {
	if d.pc != nil {
		d.pc.AsyncClose()
		d.pc = nil
	}
	if d.cons != nil {
		_ = d.cons.Close()
		d.cons = nil
	}
	if d.client != nil {
		if !d.client.Closed() {
			_ = d.client.Close()
		}
		d.client = nil
	}
	return nil
}
