// Remote sink: applies requests to a SPARQL store over HTTP, using either the
// Graph Store Protocol (RDF payloads) or SPARQL Update, chosen by the
// content-type carried on each request.
package fuseki

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rvesse/jena-fuseki-kafka/sink"
)

const ContentTypeSPARQLUpdate = "application/sparql-update"

/* ────────── config ────────── */

type Config struct {
	Endpoint  string       `yaml:"endpoint"`
	TimeoutMS int          `yaml:"timeout_ms"` // per-request; 0 = default
	Client    *http.Client `yaml:"-"`          // optional override, used by tests
}

const defaultTimeout = 30 * time.Second

/* ────────── driver ────────── */

type driver struct {
	cfg Config
	hc  *http.Client
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("fuseki-sink: expected Config, got %T", raw)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("fuseki-sink: endpoint required")
	}
	d.cfg = c
	d.hc = c.Client
	if d.hc == nil {
		to := defaultTimeout
		if c.TimeoutMS > 0 {
			to = time.Duration(c.TimeoutMS) * time.Millisecond
		}
		d.hc = &http.Client{Timeout: to}
	}
	return nil
}

// Push applies one request to the remote store. Connection errors and 5xx
// responses are retryable; 4xx responses are data-level rejections.
func (d *driver) Push(r *sink.Request) error {
	ct := r.ContentType()
	method := http.MethodPost
	if ct != ContentTypeSPARQLUpdate && strings.EqualFold(r.Headers[sink.HeaderGraphOp], "replace") {
		method = http.MethodPut
	}

	req, err := http.NewRequest(method, d.cfg.Endpoint, bytes.NewReader(r.Payload))
	if err != nil {
		return sink.RejectedErr(err)
	}
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		return sink.RetryableErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return sink.RetryableErr(httpError(resp))
	default:
		return sink.RejectedErr(httpError(resp))
	}
}

func (d *driver) Close() error { return nil }

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status)
	}
	return fmt.Errorf("%s %s: %s: %s", resp.Request.Method, resp.Request.URL, resp.Status, msg)
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("fuseki", func() sink.Adapter { return &driver{} })
}
