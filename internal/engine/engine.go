// Package engine hosts the connector engine: the per-topic batch processors
// and the lifecycle hooks the server drives (prepare, start, stop).
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rvesse/jena-fuseki-kafka/internal/config"
	"github.com/rvesse/jena-fuseki-kafka/internal/connector"
	"github.com/rvesse/jena-fuseki-kafka/internal/logging"
	"github.com/rvesse/jena-fuseki-kafka/internal/state"
	"github.com/rvesse/jena-fuseki-kafka/sink"
	"github.com/rvesse/jena-fuseki-kafka/sink/fuseki"
	"github.com/rvesse/jena-fuseki-kafka/sink/local"
	"github.com/rvesse/jena-fuseki-kafka/source/kafka"
)

// unit is one fully-prepared connector: descriptor, restored state, consumer
// and sink, plus the processor that binds them.
type unit struct {
	desc *connector.Descriptor
	st   *state.Store
	src  kafka.Consumer
	snk  sink.Adapter
	proc *Processor
}

// Engine is the build context produced by Prepare and consumed by Start: it
// carries the prepared connectors explicitly between lifecycle phases.
type Engine struct {
	reg    *connector.Registry
	driver string
	tuning kafka.Tuning
	store  local.Applier // shared in-process dataset store, nil = per-sink default

	units  []*unit
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Prepare builds one connector per configured section: descriptor, restored
// or created state, registry entry, sink and consumer. A failing section is
// reported and skipped; the other connectors are unaffected. Zero connectors
// is a no-op engine.
func Prepare(cfg config.File, reg *connector.Registry) (*Engine, error) {
	return PrepareWithStore(cfg, reg, nil)
}

// PrepareWithStore is Prepare with a host-provided in-process dataset store
// shared by all local-sink connectors.
func PrepareWithStore(cfg config.File, reg *connector.Registry, store local.Applier) (*Engine, error) {
	tuning, err := kafka.LoadTuning(cfg.KafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka tuning: %w", err)
	}
	e := &Engine{reg: reg, driver: cfg.Driver, tuning: tuning, store: store}
	for _, section := range cfg.Connectors {
		if err := e.prepareOne(section); err != nil {
			logging.L().Error("connector will not start", "topic", section.Topic, "err", err)
		}
	}
	return e, nil
}

func (e *Engine) prepareOne(c config.ConnectorSection) error {
	desc, err := c.Descriptor()
	if err != nil {
		return err
	}
	st, err := state.RestoreOrCreate(desc.StateFile, desc.Target.String(), desc.Topic)
	if err != nil {
		return err
	}
	if err := e.reg.Register(desc.Topic, desc); err != nil {
		return err
	}

	snk, err := e.buildSink(desc)
	if err != nil {
		e.reg.Unregister(desc.Topic)
		return err
	}
	src, err := kafka.NewConsumer(e.driver)
	if err == nil {
		err = src.Configure(kafka.Config{
			Brokers:   desc.BootstrapServers,
			Topic:     desc.Topic,
			Partition: desc.Partition,
			ClientID:  desc.GroupID,
			Extra:     desc.ExtraProperties,
			Tuning:    e.tuning,
		})
	}
	if err != nil {
		_ = snk.Close()
		e.reg.Unregister(desc.Topic)
		return fmt.Errorf("%w: [%s] %w", connector.ErrConfig, desc.Topic, err)
	}

	logging.L().Info("connector prepared",
		"topic", desc.Topic, "sink", desc.Target.String(), "initial_offset", st.LastOffset())
	e.units = append(e.units, &unit{desc: desc, st: st, src: src, snk: snk, proc: NewProcessor(desc, st, src, snk)})
	return nil
}

func (e *Engine) buildSink(desc *connector.Descriptor) (sink.Adapter, error) {
	switch desc.Target.Kind {
	case connector.SinkLocal:
		snk, err := sink.NewAdapter("local")
		if err != nil {
			return nil, err
		}
		if err := snk.Configure(local.Config{Dataset: desc.Target.Dataset, Store: e.store}); err != nil {
			return nil, err
		}
		return snk, nil
	default:
		snk, err := sink.NewAdapter("fuseki")
		if err != nil {
			return nil, err
		}
		if err := snk.Configure(fuseki.Config{Endpoint: desc.Target.Endpoint}); err != nil {
			return nil, err
		}
		return snk, nil
	}
}

// Topics returns the topics of the prepared connectors.
func (e *Engine) Topics() []string {
	out := make([]string, 0, len(e.units))
	for _, u := range e.units {
		out = append(out, u.desc.Topic)
	}
	return out
}

// Start launches one processor goroutine per prepared connector. Called once,
// after the host server is otherwise ready.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	for _, u := range e.units {
		u := u
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := u.proc.Run(ctx); err != nil {
				logging.L().Error("connector halted", "topic", u.desc.Topic, "err", err)
			}
		}()
	}
}

// Stop signals every processor to finish its current record, waits for them,
// then releases sinks and registry entries.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	for _, u := range e.units {
		_ = u.snk.Close()
		e.reg.Unregister(u.desc.Topic)
	}
}
