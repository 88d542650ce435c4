// Package connector holds the immutable per-topic wiring (descriptor) and the
// process-wide registry of live connectors.
package connector

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ErrConfig marks an invalid descriptor. Fatal to that one connector,
// non-fatal to the process.
var ErrConfig = errors.New("connector: invalid configuration")

// DefaultGroupID is used when a connector declares no group identity.
const DefaultGroupID = "JenaFusekiKafka"

// SinkKind tags the sink-target variant. Resolved once at descriptor build,
// never re-decided per record.
type SinkKind int

const (
	SinkLocal  SinkKind = iota // in-process dataset
	SinkRemote                 // HTTP endpoint
)

// SinkTarget is either Local(dataset) or Remote(endpoint).
type SinkTarget struct {
	Kind     SinkKind
	Dataset  string // SinkLocal
	Endpoint string // SinkRemote
}

// String is the stable form recorded in the state file.
func (t SinkTarget) String() string {
	if t.Kind == SinkLocal {
		return "local:" + t.Dataset
	}
	return "remote:" + t.Endpoint
}

// RejectPolicy says what the processor does when the sink rejects a payload:
// halt the connector, or skip the record and advance (logged loudly either
// way).
type RejectPolicy string

const (
	RejectHalt RejectPolicy = "halt"
	RejectSkip RejectPolicy = "skip"
)

// ParseRejectPolicy maps a config string to a policy; "" defaults to halt,
// the conservative choice (never advance past an unapplied record
// implicitly).
func ParseRejectPolicy(s string) (RejectPolicy, error) {
	switch RejectPolicy(s) {
	case "":
		return RejectHalt, nil
	case RejectHalt, RejectSkip:
		return RejectPolicy(s), nil
	default:
		return "", fmt.Errorf("%w: on_reject must be %q or %q, got %q", ErrConfig, RejectHalt, RejectSkip, s)
	}
}

// Descriptor is the identity and wiring for one topic-to-sink binding.
// Immutable once built; owned by the processor bound to it.
type Descriptor struct {
	Topic            string
	BootstrapServers []string
	GroupID          string
	Partition        int32
	Target           SinkTarget
	StateFile        string
	OnReject         RejectPolicy
	PollTimeout      time.Duration
	MaxPollRecords   int
	ExtraProperties  map[string]string
}

const (
	defaultPollTimeout    = 5 * time.Second
	defaultMaxPollRecords = 500
)

// Validate checks the descriptor and fills in defaults. Any failure is a
// configuration error for this connector only.
func (d *Descriptor) Validate() error {
	if d.Topic == "" {
		return fmt.Errorf("%w: topic required", ErrConfig)
	}
	if len(d.BootstrapServers) == 0 {
		return fmt.Errorf("%w: [%s] bootstrap_servers required", ErrConfig, d.Topic)
	}
	if d.StateFile == "" {
		return fmt.Errorf("%w: [%s] state_file required", ErrConfig, d.Topic)
	}
	if dir := filepath.Dir(d.StateFile); dir != "." {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return fmt.Errorf("%w: [%s] state_file directory %q not usable", ErrConfig, d.Topic, dir)
		}
	}
	switch d.Target.Kind {
	case SinkLocal:
		if d.Target.Dataset == "" {
			return fmt.Errorf("%w: [%s] local sink needs a dataset name", ErrConfig, d.Topic)
		}
	case SinkRemote:
		u, err := url.Parse(d.Target.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: [%s] remote sink endpoint %q is not an absolute URL", ErrConfig, d.Topic, d.Target.Endpoint)
		}
	default:
		return fmt.Errorf("%w: [%s] unknown sink kind", ErrConfig, d.Topic)
	}
	if d.GroupID == "" {
		d.GroupID = DefaultGroupID
	}
	if d.OnReject == "" {
		d.OnReject = RejectHalt
	}
	if d.PollTimeout <= 0 {
		d.PollTimeout = defaultPollTimeout
	}
	if d.MaxPollRecords <= 0 {
		d.MaxPollRecords = defaultMaxPollRecords
	}
	return nil
}
