package sink

import "fmt"

// Request is the unit of work handed to a sink: one consumed log record,
// translated to topic + headers + payload. It is consumed once by Push and
// not retained afterwards.
type Request struct {
	Topic   string
	Headers map[string]string
	Payload []byte
}

// ContentType returns the request's content-type header, or "" when absent.
func (r *Request) ContentType() string {
	return r.Headers[HeaderContentType]
}

// Well-known request headers.
const (
	HeaderContentType = "content-type"
	HeaderGraphOp     = "fk-graph-op" // "replace" switches a graph add to a replace
)

// Adapter is the common behaviour every sink driver exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Push(*Request) error // apply one request; failures classified per errors.go
	Close() error        // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
