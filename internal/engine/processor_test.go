package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rvesse/jena-fuseki-kafka/internal/connector"
	"github.com/rvesse/jena-fuseki-kafka/internal/state"
	"github.com/rvesse/jena-fuseki-kafka/sink"
	"github.com/rvesse/jena-fuseki-kafka/source/kafka"
)

/* ────────── fakes ────────── */

// fakeConsumer serves scripted batches, then signals done so the test can
// stop the loop.
type fakeConsumer struct {
	startCalls []int64
	startErrs  []error // consumed one per Start call; nil = success
	pollErrs   []error // consumed one per Poll call, before any batch
	batches    [][]kafka.Record
	done       context.CancelFunc
	closed     bool
}

func (f *fakeConsumer) Configure(kafka.Config) error { return nil }

func (f *fakeConsumer) Start(lastOffset int64) error {
	f.startCalls = append(f.startCalls, lastOffset)
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeConsumer) Poll(ctx context.Context, _ time.Duration, _ int) ([]kafka.Record, error) {
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		return nil, err
	}
	if len(f.batches) == 0 {
		if f.done != nil {
			f.done()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

// scriptSink records pushes and delegates the result to a script.
type scriptSink struct {
	pushed []string
	script func(call int, r *sink.Request) error
}

func (s *scriptSink) Configure(any) error { return nil }
func (s *scriptSink) Push(r *sink.Request) error {
	call := len(s.pushed)
	s.pushed = append(s.pushed, string(r.Payload))
	if s.script != nil {
		return s.script(call, r)
	}
	return nil
}
func (s *scriptSink) Close() error { return nil }

func records(offsets ...int64) []kafka.Record {
	out := make([]kafka.Record, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, kafka.Record{
			Offset: off,
			Request: &sink.Request{
				Topic:   "rdf_updates",
				Headers: map[string]string{sink.HeaderContentType: "text/turtle"},
				Payload: []byte(fmt.Sprint(off)),
			},
		})
	}
	return out
}

func testDescriptor(t *testing.T) *connector.Descriptor {
	t.Helper()
	d := &connector.Descriptor{
		Topic:            "rdf_updates",
		BootstrapServers: []string{"localhost:9092"},
		Target:           connector.SinkTarget{Kind: connector.SinkRemote, Endpoint: "http://localhost:3030/ds"},
		StateFile:        filepath.Join(t.TempDir(), "rdf_updates.state"),
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return d
}

func newTestProcessor(t *testing.T, desc *connector.Descriptor, fc *fakeConsumer, fs *scriptSink) (*Processor, *state.Store) {
	t.Helper()
	st, err := state.RestoreOrCreate(desc.StateFile, desc.Target.String(), desc.Topic)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	p := NewProcessor(desc, st, fc, fs)
	p.backOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Millisecond
		bo.MaxInterval = 5 * time.Millisecond
		bo.MaxElapsedTime = 0
		return bo
	}
	return p, st
}

func run(t *testing.T, p *Processor, fc *fakeConsumer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fc.done = cancel
	return p.Run(ctx)
}

/* ────────── tests ────────── */

func TestProcessor_AppliesInOrderAndCommits(t *testing.T) {
	desc := testDescriptor(t)
	fc := &fakeConsumer{batches: [][]kafka.Record{records(0, 1, 2), records(3, 4)}}
	fs := &scriptSink{}
	p, st := newTestProcessor(t, desc, fc, fs)

	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"0", "1", "2", "3", "4"}
	if len(fs.pushed) != len(want) {
		t.Fatalf("pushed %v, want %v", fs.pushed, want)
	}
	for i := range want {
		if fs.pushed[i] != want[i] {
			t.Fatalf("order broken at %d: %v", i, fs.pushed)
		}
	}
	if st.LastOffset() != 4 {
		t.Fatalf("final offset: want 4, got %d", st.LastOffset())
	}
	if !fc.closed {
		t.Fatal("consumer not released on stop")
	}

	// The committed offset survives a restart.
	restored, err := state.RestoreOrCreate(desc.StateFile, desc.Target.String(), desc.Topic)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.LastOffset() != 4 {
		t.Fatalf("persisted offset: want 4, got %d", restored.LastOffset())
	}
}

func TestProcessor_ResumesAfterPersistedOffset(t *testing.T) {
	desc := testDescriptor(t)

	// A previous run committed offsets 0..2.
	prev, err := state.RestoreOrCreate(desc.StateFile, desc.Target.String(), desc.Topic)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for i := int64(0); i <= 2; i++ {
		if err := prev.Advance(i); err != nil {
			t.Fatalf("Advance(%d): %v", i, err)
		}
	}

	fc := &fakeConsumer{batches: [][]kafka.Record{records(3, 4)}}
	fs := &scriptSink{}
	p, st := newTestProcessor(t, desc, fc, fs)

	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.startCalls) != 1 || fc.startCalls[0] != 2 {
		t.Fatalf("consumer must be positioned after offset 2, Start calls: %v", fc.startCalls)
	}
	if len(fs.pushed) != 2 || fs.pushed[0] != "3" || fs.pushed[1] != "4" {
		t.Fatalf("want only offsets 3-4 redispatched, got %v", fs.pushed)
	}
	if st.LastOffset() != 4 {
		t.Fatalf("final offset: want 4, got %d", st.LastOffset())
	}
}

func TestProcessor_RedeliveryAfterCrashIsHarmless(t *testing.T) {
	desc := testDescriptor(t)

	// Crash after dispatching offset 3 but before persisting it: the state
	// still says 2 and offset 3 arrives again.
	prev, err := state.RestoreOrCreate(desc.StateFile, desc.Target.String(), desc.Topic)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for i := int64(0); i <= 2; i++ {
		if err := prev.Advance(i); err != nil {
			t.Fatalf("Advance(%d): %v", i, err)
		}
	}

	fc := &fakeConsumer{batches: [][]kafka.Record{records(3, 4)}}
	fs := &scriptSink{}
	p, st := newTestProcessor(t, desc, fc, fs)
	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.LastOffset() != 4 {
		t.Fatalf("re-advancing past a redelivered record: want 4, got %d", st.LastOffset())
	}
}

func TestProcessor_TransientFailureRetriesSameRecord(t *testing.T) {
	desc := testDescriptor(t)

	prev, err := state.RestoreOrCreate(desc.StateFile, desc.Target.String(), desc.Topic)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for i := int64(0); i <= 2; i++ {
		if err := prev.Advance(i); err != nil {
			t.Fatalf("Advance(%d): %v", i, err)
		}
	}

	fc := &fakeConsumer{batches: [][]kafka.Record{records(3, 4)}}
	fs := &scriptSink{}
	var p *Processor
	var st *state.Store

	attempts3 := 0
	fs.script = func(_ int, r *sink.Request) error {
		switch string(r.Payload) {
		case "3":
			attempts3++
			// Offset 2 stays committed while the record is being retried.
			if st.LastOffset() != 2 {
				t.Errorf("offset advanced during retries: %d", st.LastOffset())
			}
			if attempts3 <= 3 {
				return sink.RetryableErr(errors.New("sink unreachable"))
			}
			return nil
		case "4":
			// Offset 3 must be committed before 4 is even attempted.
			if st.LastOffset() != 3 {
				t.Errorf("offset 4 attempted before 3 committed: %d", st.LastOffset())
			}
			return nil
		}
		return nil
	}

	p, st = newTestProcessor(t, desc, fc, fs)
	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts3 != 4 {
		t.Fatalf("want 3 failures + 1 success for offset 3, got %d attempts", attempts3)
	}
	if st.LastOffset() != 4 {
		t.Fatalf("final offset: want 4, got %d", st.LastOffset())
	}
}

func TestProcessor_RejectedHaltsByDefault(t *testing.T) {
	desc := testDescriptor(t)
	fc := &fakeConsumer{batches: [][]kafka.Record{records(0, 1, 2)}}
	fs := &scriptSink{script: func(_ int, r *sink.Request) error {
		if string(r.Payload) == "1" {
			return sink.RejectedErr(errors.New("malformed payload"))
		}
		return nil
	}}
	p, st := newTestProcessor(t, desc, fc, fs)

	err := run(t, p, fc)
	if err == nil || !sink.Rejected(err) {
		t.Fatalf("want rejection to halt the connector, got %v", err)
	}
	if st.LastOffset() != 0 {
		t.Fatalf("offset must not advance past the rejected record, got %d", st.LastOffset())
	}
	for _, pushed := range fs.pushed {
		if pushed == "2" {
			t.Fatal("record after the rejected one must not be dispatched")
		}
	}
}

func TestProcessor_RejectedSkipAdvances(t *testing.T) {
	desc := testDescriptor(t)
	desc.OnReject = connector.RejectSkip
	fc := &fakeConsumer{batches: [][]kafka.Record{records(0, 1, 2)}}
	fs := &scriptSink{script: func(_ int, r *sink.Request) error {
		if string(r.Payload) == "1" {
			return sink.RejectedErr(errors.New("malformed payload"))
		}
		return nil
	}}
	p, st := newTestProcessor(t, desc, fc, fs)

	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.LastOffset() != 2 {
		t.Fatalf("skip policy must advance past the rejected record, got %d", st.LastOffset())
	}
	if fs.pushed[len(fs.pushed)-1] != "2" {
		t.Fatalf("processing must continue after the skip, pushed %v", fs.pushed)
	}
}

func TestProcessor_OffsetUnavailableHalts(t *testing.T) {
	desc := testDescriptor(t)
	fc := &fakeConsumer{startErrs: []error{fmt.Errorf("%w: gone", kafka.ErrOffsetUnavailable)}}
	fs := &scriptSink{}
	p, _ := newTestProcessor(t, desc, fc, fs)

	err := run(t, p, fc)
	if !errors.Is(err, kafka.ErrOffsetUnavailable) {
		t.Fatalf("want ErrOffsetUnavailable surfaced, got %v", err)
	}
	if len(fs.pushed) != 0 {
		t.Fatal("nothing may be dispatched after data loss is detected")
	}
}

func TestProcessor_ConnectRetriesWhileLogUnavailable(t *testing.T) {
	desc := testDescriptor(t)
	fc := &fakeConsumer{
		startErrs: []error{errors.New("broker down"), errors.New("broker down"), nil},
		batches:   [][]kafka.Record{records(0)},
	}
	fs := &scriptSink{}
	p, st := newTestProcessor(t, desc, fc, fs)

	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.startCalls) != 3 {
		t.Fatalf("want 3 Start attempts, got %d", len(fc.startCalls))
	}
	if st.LastOffset() != 0 {
		t.Fatalf("final offset: want 0, got %d", st.LastOffset())
	}
}

func TestProcessor_PollFailureReconnectsAfterCommittedOffset(t *testing.T) {
	desc := testDescriptor(t)
	fc := &fakeConsumer{
		pollErrs: []error{errors.New("broker went away")},
		batches:  [][]kafka.Record{records(0, 1)},
	}
	fs := &scriptSink{}
	p, st := newTestProcessor(t, desc, fc, fs)

	if err := run(t, p, fc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Initial connect plus one reconnect after the failed poll, both
	// positioned after the committed offset.
	if len(fc.startCalls) != 2 {
		t.Fatalf("want 2 Start calls, got %v", fc.startCalls)
	}
	if fc.startCalls[1] != state.NoOffset {
		t.Fatalf("reconnect position: want %d, got %d", state.NoOffset, fc.startCalls[1])
	}
	if st.LastOffset() != 1 {
		t.Fatalf("final offset: want 1, got %d", st.LastOffset())
	}
}

func TestProcessor_StopFinishesCurrentRecord(t *testing.T) {
	desc := testDescriptor(t)
	fc := &fakeConsumer{batches: [][]kafka.Record{records(0, 1, 2)}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fs := &scriptSink{script: func(_ int, r *sink.Request) error {
		if string(r.Payload) == "1" {
			cancel() // stop requested while record 1 is being applied
		}
		return nil
	}}
	p, st := newTestProcessor(t, desc, fc, fs)

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Record 1 finishes its commit; record 2 is never started.
	if st.LastOffset() != 1 {
		t.Fatalf("want offset 1 committed on stop, got %d", st.LastOffset())
	}
	for _, pushed := range fs.pushed {
		if pushed == "2" {
			t.Fatal("no new record may start after stop is requested")
		}
	}
}
