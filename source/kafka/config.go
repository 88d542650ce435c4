package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Tuning is broker-level configuration shared by every connector in the
// process: protocol version, auth, fetch sizing.
type Tuning struct {
	Version   string `koanf:"version"`
	TLSEn     bool   `koanf:"tls_enabled"`
	SASLUser  string `koanf:"sasl_user"`
	SASLPass  string `koanf:"sasl_pass"`
	FetchMin  int32  `koanf:"fetch_min_bytes"`
	FetchMax  int32  `koanf:"fetch_max_bytes"`
	ChanBufSz int    `koanf:"channel_buffer_size"`
}

// LoadTuning merges YAML (if present) with env-vars
// (prefix `FK_KAFKA__`, delimiter `__`).
func LoadTuning(path string) (Tuning, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Tuning{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Tuning{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("FK_KAFKA__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "FK_KAFKA__"))
	}), nil)

	var t Tuning
	if err := k.Unmarshal("", &t); err != nil {
		return t, err
	}
	applyDefaults(&t)
	return t, nil
}

func applyDefaults(t *Tuning) {
	if t.Version == "" {
		t.Version = "3.6.0"
	}
	if t.ChanBufSz == 0 {
		t.ChanBufSz = 256
	}
}
