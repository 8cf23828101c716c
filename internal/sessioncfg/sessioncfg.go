// Package sessioncfg decodes the per-session counter configuration out of a
// data-source-config payload. The configuration lives in a nested message
// carried by a single extension field of the outer payload; both layers use
// the tagged-field format.
package sessioncfg

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/minio/highwayhash"

	"github.com/tracepulse-dev/tracepulse-go/internal/fieldcodec"
)

// ExtensionFieldNum is the field number of the counter configuration message
// inside the enclosing data-source config.
const ExtensionFieldNum = 122

// Field numbers inside the counter configuration message.
const (
	fieldPeriodNs             = 1
	fieldCounterID            = 2
	fieldInstrumentedSampling = 3
	fieldFixClock             = 4
)

// Warnf reports a non-fatal decode diagnostic.
type Warnf func(format string, args ...any)

// Config is one tracing session's counter configuration. The zero value is
// the all-defaults configuration produced when the extension field is absent.
type Config struct {
	// Period is the requested sampling period. Zero means the session did
	// not specify one and the producer's fallback applies.
	Period time.Duration
	// CounterIDs are the counters the session asked for, in the order they
	// appeared. Duplicates are preserved. Empty means the producer's
	// default counter set.
	CounterIDs []uint32
	// InstrumentedSampling and FixClock are tri-state: nil when absent
	// from the configuration.
	InstrumentedSampling *bool
	FixClock             *bool
}

// Parse extracts the counter configuration from a data-source-config payload.
// A payload without the extension field yields the zero Config and no error.
// Unknown fields inside the nested message are reported through warnf and
// skipped; a malformed buffer fails the whole parse.
func Parse(raw []byte, warnf Warnf) (Config, error) {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	var cfg Config
	dec := fieldcodec.MakeDecoder(raw)
	for dec.Next() {
		f := dec.Field()
		if f.Num == ExtensionFieldNum && f.Type == fieldcodec.TypeDelimited {
			if err := cfg.decode(f.Bytes, warnf); err != nil {
				return Config{}, fmt.Errorf("counter config: %w", err)
			}
		}
	}
	if err := dec.Err(); err != nil {
		return Config{}, fmt.Errorf("data source config: %w", err)
	}
	return cfg, nil
}

// decode populates cfg from the nested counter configuration message.
// Repeated scalar fields overwrite (last occurrence wins); counter ids
// accumulate.
func (cfg *Config) decode(raw []byte, warnf Warnf) error {
	dec := fieldcodec.MakeDecoder(raw)
	for dec.Next() {
		f := dec.Field()
		if f.Type != fieldcodec.TypeVarint {
			warnf("unknown counter config field %d (%s)", f.Num, f.Type)
			continue
		}
		switch f.Num {
		case fieldPeriodNs:
			cfg.Period = time.Duration(f.Val)
		case fieldCounterID:
			cfg.CounterIDs = append(cfg.CounterIDs, uint32(f.Val))
		case fieldInstrumentedSampling:
			v := f.Val != 0
			cfg.InstrumentedSampling = &v
		case fieldFixClock:
			v := f.Val != 0
			cfg.FixClock = &v
		default:
			warnf("unknown counter config field %d (%s)", f.Num, f.Type)
		}
	}
	return dec.Err()
}

// Marshal encodes cfg as a data-source-config payload carrying the extension
// field. It is the inverse of Parse and is used by the controller client and
// by tests.
func Marshal(cfg Config) []byte {
	var nested []byte
	if cfg.Period != 0 {
		nested = fieldcodec.AppendVarint(nested, fieldPeriodNs, uint64(cfg.Period))
	}
	for _, id := range cfg.CounterIDs {
		nested = fieldcodec.AppendVarint(nested, fieldCounterID, uint64(id))
	}
	if cfg.InstrumentedSampling != nil {
		nested = fieldcodec.AppendBool(nested, fieldInstrumentedSampling, *cfg.InstrumentedSampling)
	}
	if cfg.FixClock != nil {
		nested = fieldcodec.AppendBool(nested, fieldFixClock, *cfg.FixClock)
	}
	return fieldcodec.AppendDelimited(nil, ExtensionFieldNum, nested)
}

var hashKey [32]byte

// Fingerprint returns a short stable hash of a raw configuration payload,
// used in diagnostics to tell reconfigurations apart.
func Fingerprint(raw []byte) string {
	h := highwayhash.Sum64(raw, hashKey[:])
	var b [8]byte
	for i := range b {
		b[i] = byte(h >> (8 * i))
	}
	return hex.EncodeToString(b[:])
}
