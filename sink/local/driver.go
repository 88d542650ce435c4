// Local sink: applies requests in-process against a named dataset, with no
// network hop. The actual store sits behind the Applier boundary; Memory is
// an in-memory implementation used standalone and by tests.
package local

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rvesse/jena-fuseki-kafka/sink"
)

// Op is the update operation derived from a request's content-type.
type Op int

const (
	OpGraphAdd Op = iota
	OpGraphReplace
	OpSPARQLUpdate
)

func (o Op) String() string {
	switch o {
	case OpGraphAdd:
		return "graph-add"
	case OpGraphReplace:
		return "graph-replace"
	case OpSPARQLUpdate:
		return "sparql-update"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Applier is the in-process store boundary. Implementations must tolerate
// re-application of the same payload (at-least-once delivery).
type Applier interface {
	Apply(dataset string, op Op, payload []byte) error
}

/* ────────── config ────────── */

type Config struct {
	Dataset string  `yaml:"dataset"`
	Store   Applier `yaml:"-"`
}

/* ────────── driver ────────── */

type driver struct {
	cfg Config
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("local-sink: expected Config, got %T", raw)
	}
	if c.Dataset == "" {
		return fmt.Errorf("local-sink: dataset required")
	}
	if c.Store == nil {
		c.Store = NewMemory()
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(r *sink.Request) error {
	op, err := opFor(r)
	if err != nil {
		return sink.RejectedErr(err)
	}
	if err := d.cfg.Store.Apply(d.cfg.Dataset, op, r.Payload); err != nil {
		if sink.Retryable(err) || sink.Rejected(err) {
			return err
		}
		// Local execution errors are data-level.
		return sink.RejectedErr(err)
	}
	return nil
}

func (d *driver) Close() error { return nil }

func opFor(r *sink.Request) (Op, error) {
	ct := r.ContentType()
	if ct == "" {
		return 0, fmt.Errorf("no content-type header on record from topic %q", r.Topic)
	}
	if ct == "application/sparql-update" {
		return OpSPARQLUpdate, nil
	}
	if strings.EqualFold(r.Headers[sink.HeaderGraphOp], "replace") {
		return OpGraphReplace, nil
	}
	return OpGraphAdd, nil
}

/* ────────── in-memory store ────────── */

// Memory keeps, per dataset, the ordered journal of applied updates. Replays
// of the same update simply append again, which is harmless for the engine's
// ordering guarantees and observable by tests.
type Memory struct {
	mu       sync.Mutex
	datasets map[string][]Entry
}

type Entry struct {
	Op      Op
	Payload []byte
}

func NewMemory() *Memory {
	return &Memory{datasets: make(map[string][]Entry)}
}

func (m *Memory) Apply(dataset string, op Op, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), payload...)
	if op == OpGraphReplace {
		m.datasets[dataset] = []Entry{{Op: op, Payload: cp}}
		return nil
	}
	m.datasets[dataset] = append(m.datasets[dataset], Entry{Op: op, Payload: cp})
	return nil
}

// Journal returns a copy of the applied entries for a dataset, in order.
func (m *Memory) Journal(dataset string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.datasets[dataset]...)
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("local", func() sink.Adapter { return &driver{} })
}
