// Package config parses the server configuration file: one connector section
// per topic-to-sink binding, plus process-wide settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rvesse/jena-fuseki-kafka/internal/connector"
)

const SupportedSchema = "v1"

type LogSection struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ConnectorSection is the declarative form of one connector. Exactly one of
// dataset (local sink) or endpoint (remote sink) must be set.
type ConnectorSection struct {
	Topic            string            `yaml:"topic"`
	BootstrapServers []string          `yaml:"bootstrap_servers"`
	GroupID          string            `yaml:"group_id"`
	Partition        int32             `yaml:"partition"`
	Dataset          string            `yaml:"dataset"`
	Endpoint         string            `yaml:"endpoint"`
	StateFile        string            `yaml:"state_file"`
	OnReject         string            `yaml:"on_reject"`
	PollTimeoutMS    int               `yaml:"poll_timeout_ms"`
	MaxPollRecords   int               `yaml:"max_poll_records"`
	Config           map[string]string `yaml:"config"` // extra broker properties
}

type File struct {
	SchemaVersion string             `yaml:"schema_version"`
	Driver        string             `yaml:"driver"`       // kafka driver name
	KafkaConfig   string             `yaml:"kafka_config"` // optional broker tuning YAML
	MetricsPort   int                `yaml:"metrics_port"`
	Log           LogSection         `yaml:"log"`
	Connectors    []ConnectorSection `yaml:"connectors"`
}

// Load parses the server YAML, validates schema_version, and resolves
// relative paths (kafka_config, state files) against the file's directory.
func Load(path string) (File, error) {
	var cfg File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("config schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.Driver == "" {
		cfg.Driver = "sarama"
	}

	dir := filepath.Dir(path)
	cfg.KafkaConfig = resolve(dir, cfg.KafkaConfig)
	for i := range cfg.Connectors {
		cfg.Connectors[i].StateFile = resolve(dir, cfg.Connectors[i].StateFile)
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Descriptor turns one connector section into a validated descriptor. Errors
// are configuration errors for this connector only.
func (c ConnectorSection) Descriptor() (*connector.Descriptor, error) {
	var target connector.SinkTarget
	switch {
	case c.Dataset != "" && c.Endpoint != "":
		return nil, fmt.Errorf("%w: [%s] dataset and endpoint are mutually exclusive", connector.ErrConfig, c.Topic)
	case c.Dataset != "":
		target = connector.SinkTarget{Kind: connector.SinkLocal, Dataset: c.Dataset}
	case c.Endpoint != "":
		target = connector.SinkTarget{Kind: connector.SinkRemote, Endpoint: c.Endpoint}
	default:
		return nil, fmt.Errorf("%w: [%s] one of dataset or endpoint required", connector.ErrConfig, c.Topic)
	}

	policy, err := connector.ParseRejectPolicy(c.OnReject)
	if err != nil {
		return nil, err
	}

	d := &connector.Descriptor{
		Topic:            c.Topic,
		BootstrapServers: c.BootstrapServers,
		GroupID:          c.GroupID,
		Partition:        c.Partition,
		Target:           target,
		StateFile:        c.StateFile,
		OnReject:         policy,
		PollTimeout:      time.Duration(c.PollTimeoutMS) * time.Millisecond,
		MaxPollRecords:   c.MaxPollRecords,
		ExtraProperties:  c.Config,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
