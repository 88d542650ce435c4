package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rvesse/jena-fuseki-kafka/internal/connector"
	"github.com/rvesse/jena-fuseki-kafka/internal/logging"
	"github.com/rvesse/jena-fuseki-kafka/internal/state"
	"github.com/rvesse/jena-fuseki-kafka/internal/telemetry"
	"github.com/rvesse/jena-fuseki-kafka/sink"
	"github.com/rvesse/jena-fuseki-kafka/source/kafka"
)

// Processor is the per-connector consume loop: poll the log, replay each
// record through the sink in offset order, persist the offset only after the
// dispatch succeeded. It runs on exactly one goroutine; the state store
// relies on that single-writer discipline.
type Processor struct {
	desc    *connector.Descriptor
	state   *state.Store
	source  kafka.Consumer
	sink    sink.Adapter
	log     *slog.Logger
	backOff func() backoff.BackOff
}

func NewProcessor(desc *connector.Descriptor, st *state.Store, src kafka.Consumer, snk sink.Adapter) *Processor {
	return &Processor{
		desc:    desc,
		state:   st,
		source:  src,
		sink:    snk,
		log:     logging.L().With("topic", desc.Topic),
		backOff: func() backoff.BackOff { return newBackOff() },
	}
}

func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // attempts are unbounded; only the interval is capped
	return bo
}

// Run drives the loop until ctx is cancelled or the connector halts. A stop
// takes effect at record boundaries only: the record being applied always
// finishes its commit first. Returns nil on a clean stop.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.connect(ctx); err != nil {
		if ctxErr(err) {
			return nil
		}
		return err
	}
	defer p.source.Close()

	pollBO := p.backOff()
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, pollErr := p.source.Poll(ctx, p.desc.PollTimeout, p.desc.MaxPollRecords)

		// Apply whatever arrived before dealing with a poll failure.
		for _, rec := range batch {
			if err := p.applyRecord(ctx, rec); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}

		if pollErr != nil {
			if ctxErr(pollErr) {
				return nil
			}
			telemetry.PollFailures.WithLabelValues(p.desc.Topic).Inc()
			next := pollBO.NextBackOff()
			p.log.Warn("poll failed, backing off", "backoff", next, "err", pollErr)
			if !sleep(ctx, next) {
				return nil
			}
			// Reopen the log connection, repositioned after the last
			// committed offset.
			p.source.Close()
			if err := p.connect(ctx); err != nil {
				if ctxErr(err) {
					return nil
				}
				return err
			}
			continue
		}
		pollBO.Reset()
	}
}

// connect opens the log connection positioned after the persisted offset,
// retrying while the broker is unreachable. A resume position the log no
// longer retains is data loss and halts the connector instead.
func (p *Processor) connect(ctx context.Context) error {
	op := func() error {
		err := p.source.Start(p.state.LastOffset())
		if err == nil {
			return nil
		}
		if errors.Is(err, kafka.ErrOffsetUnavailable) {
			return backoff.Permanent(err)
		}
		telemetry.PollFailures.WithLabelValues(p.desc.Topic).Inc()
		p.log.Warn("log unavailable, retrying", "err", err)
		return err
	}
	return backoff.Retry(op, backoff.WithContext(p.backOff(), ctx))
}

// applyRecord dispatches one record and commits its offset. Transient sink
// failures retry the same record for as long as it takes; rejections follow
// the connector's policy.
func (p *Processor) applyRecord(ctx context.Context, rec kafka.Record) error {
	op := func() error {
		err := p.sink.Push(rec.Request)
		if err == nil {
			return nil
		}
		if sink.Rejected(err) {
			return backoff.Permanent(err)
		}
		telemetry.DispatchRetries.WithLabelValues(p.desc.Topic).Inc()
		p.log.Warn("dispatch failed, will retry same record", "offset", rec.Offset, "err", err)
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(p.backOff(), ctx))
	if err == nil {
		telemetry.RecordsDispatched.WithLabelValues(p.desc.Topic).Inc()
		return p.commit(rec.Offset)
	}
	if ctxErr(err) {
		// Stopping mid-retry. The offset was not advanced, so the record is
		// redelivered on restart.
		return nil
	}

	telemetry.RecordsRejected.WithLabelValues(p.desc.Topic).Inc()
	if p.desc.OnReject == connector.RejectSkip {
		p.log.Error("sink rejected record, skipping it per on_reject policy",
			"offset", rec.Offset, "err", err)
		return p.commit(rec.Offset)
	}
	p.log.Error("sink rejected record, halting connector", "offset", rec.Offset, "err", err)
	return fmt.Errorf("[%s] record at offset %d rejected: %w", p.desc.Topic, rec.Offset, err)
}

func (p *Processor) commit(offset int64) error {
	if err := p.state.Advance(offset); err != nil {
		return fmt.Errorf("[%s] commit offset %d: %w", p.desc.Topic, offset, err)
	}
	telemetry.CommittedOffset.WithLabelValues(p.desc.Topic).Set(float64(offset))
	p.log.Debug("offset committed", "offset", offset)
	return nil
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// sleep waits for d or until ctx is done; reports false when stopping.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
