package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jeanpaul/pdbfacts/internal/schema"
)

var (
	// ErrNotFound is returned when PuppetDB has no data for the requested key.
	// Callers usually treat it as an empty result rather than a failure.
	ErrNotFound          = errors.New("not found")
	ErrMalformedResponse = errors.New("malformed response")
)

// RemoteError is any non-success status other than not found.
type RemoteError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%d %s] %s", e.StatusCode, e.Reason, e.Body)
}

// Transient reports whether the status is a server-side failure.
func (e *RemoteError) Transient() bool {
	return e.StatusCode >= 500
}

// NewRemoteError builds a RemoteError, filling in the reason phrase when the
// transport did not report one and scrubbing newlines from the body.
func NewRemoteError(status int, reason string, body []byte) *RemoteError {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &RemoteError{StatusCode: status, Reason: reason, Body: StripNewlines(string(body))}
}

// MalformedError wraps a body that could not be parsed or did not have the
// expected shape despite a success status.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedResponse }

// StripNewlines removes CR and LF characters. Newlines are not allowed in
// HTTP error reporting, so bodies are scrubbed before they reach a message.
func StripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// Success reports whether status is in the 2xx range.
func Success(status int) bool {
	return status >= 200 && status < 300
}

// Decoder turns raw status/body pairs into typed values or classified errors.
// It does no I/O.
type Decoder struct {
	validator *schema.Validator
}

// NewDecoder returns a Decoder. A nil validator disables shape checks.
func NewDecoder(v *schema.Validator) *Decoder {
	return &Decoder{validator: v}
}

// Decode classifies the status and, on success, parses body into out.
// Numbers are kept as json.Number when out holds interface values.
func (d *Decoder) Decode(status int, reason string, body []byte, out any) error {
	return d.DecodeShape(status, reason, body, nil, out)
}

// DecodeShape is Decode with an additional JSON schema check of the body.
func (d *Decoder) DecodeShape(status int, reason string, body []byte, shape any, out any) error {
	if !Success(status) {
		if status == http.StatusNotFound {
			return ErrNotFound
		}
		return NewRemoteError(status, reason, body)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &MalformedError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &MalformedError{Err: errors.New("trailing data after JSON document")}
	}

	if shape != nil && d.validator != nil {
		if err := d.validator.Validate(shape, body); err != nil {
			return &MalformedError{Err: err}
		}
	}
	return nil
}
