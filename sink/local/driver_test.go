package local

import (
	"testing"

	"github.com/rvesse/jena-fuseki-kafka/sink"
)

func newDriver(t *testing.T, store *Memory) sink.Adapter {
	t.Helper()
	d, err := sink.NewAdapter("local")
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if err := d.Configure(Config{Dataset: "/ds", Store: store}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return d
}

func req(ct string, headers map[string]string, payload string) *sink.Request {
	h := map[string]string{}
	if ct != "" {
		h[sink.HeaderContentType] = ct
	}
	for k, v := range headers {
		h[k] = v
	}
	return &sink.Request{Topic: "t", Headers: h, Payload: []byte(payload)}
}

func TestPush_OpRouting(t *testing.T) {
	store := NewMemory()
	d := newDriver(t, store)

	if err := d.Push(req("text/turtle", nil, "one")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.Push(req("application/sparql-update", nil, "two")); err != nil {
		t.Fatalf("update: %v", err)
	}

	j := store.Journal("/ds")
	if len(j) != 2 {
		t.Fatalf("want 2 journal entries, got %d", len(j))
	}
	if j[0].Op != OpGraphAdd || string(j[0].Payload) != "one" {
		t.Fatalf("entry 0: %v %q", j[0].Op, j[0].Payload)
	}
	if j[1].Op != OpSPARQLUpdate || string(j[1].Payload) != "two" {
		t.Fatalf("entry 1: %v %q", j[1].Op, j[1].Payload)
	}
}

func TestPush_ReplaceResetsDataset(t *testing.T) {
	store := NewMemory()
	d := newDriver(t, store)

	if err := d.Push(req("text/turtle", nil, "one")); err != nil {
		t.Fatalf("add: %v", err)
	}
	replace := map[string]string{sink.HeaderGraphOp: "replace"}
	if err := d.Push(req("text/turtle", replace, "two")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	j := store.Journal("/ds")
	if len(j) != 1 || j[0].Op != OpGraphReplace || string(j[0].Payload) != "two" {
		t.Fatalf("replace must reset the journal, got %v", j)
	}
}

func TestPush_MissingContentTypeRejected(t *testing.T) {
	d := newDriver(t, NewMemory())
	err := d.Push(req("", nil, "x"))
	if !sink.Rejected(err) {
		t.Fatalf("missing content-type: want rejected, got %v", err)
	}
}
