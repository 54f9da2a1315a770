package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Command names accepted by PuppetDB.
const (
	ReplaceFacts        = "replace facts"
	ReplaceFactsVersion = 5
)

// wireTimeLayout is ISO 8601 with millisecond precision, always in UTC.
const wireTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// WireTime formats t the way PuppetDB expects producer timestamps.
func WireTime(t time.Time) string {
	return t.UTC().Format(wireTimeLayout)
}

// Envelope is a versioned command ready for submission. Payload is opaque
// here and is serialized once so retries resend identical bytes.
type Envelope struct {
	Command           string          `json:"command"`
	Version           int             `json:"version"`
	Certname          string          `json:"certname"`
	ProducerTimestamp string          `json:"producer_timestamp"`
	Producer          string          `json:"producer"`
	Payload           json.RawMessage `json:"payload"`
}

// PayloadFunc produces a command payload. It is only called by Build, so
// expensive payload construction is skipped when no submission happens.
type PayloadFunc func() (any, error)

// Build assembles an envelope. now is converted to UTC.
func Build(command string, version int, certname string, payload PayloadFunc, now time.Time, producer string) (*Envelope, error) {
	if command == "" {
		return nil, errors.New("command name is required")
	}
	if certname == "" {
		return nil, errors.New("certname is required")
	}
	if payload == nil {
		return nil, errors.New("payload builder is required")
	}

	value, err := payload()
	if err != nil {
		return nil, fmt.Errorf("build %q payload for %s: %w", command, certname, err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload for %s: %w", command, certname, err)
	}

	return &Envelope{
		Command:           command,
		Version:           version,
		Certname:          certname,
		ProducerTimestamp: WireTime(now),
		Producer:          producer,
		Payload:           raw,
	}, nil
}
