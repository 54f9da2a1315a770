package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

const DefaultPath = "/pdb/cmd/v1"

var ErrSubmissionFatal = errors.New("command submission failed")

// FatalError is returned when a command could not be delivered, either
// because the retry budget ran out or because the failure was permanent.
type FatalError struct {
	Command  string
	Certname string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("failed to submit '%s' command for %s to PuppetDB after %d attempt(s): %v",
		e.Command, e.Certname, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrSubmissionFatal }

// Poster is the transport a Submitter sends commands through.
type Poster interface {
	Post(ctx context.Context, path string, body []byte, header http.Header) (*transport.Response, error)
}

// Result describes an accepted command.
type Result struct {
	// UUID is the identifier PuppetDB assigned to the queued command.
	UUID      uuid.UUID
	RequestID string
	Attempts  int
}

// Submitter posts command envelopes with retry. It keeps no state between
// calls and is safe to share.
type Submitter struct {
	poster  Poster
	path    string
	policy  RetryPolicy
	decoder *response.Decoder
	logger  *zap.Logger
}

type SubmitterOption func(*Submitter)

func WithPath(path string) SubmitterOption {
	return func(s *Submitter) {
		if path != "" {
			s.path = path
		}
	}
}

func WithRetryPolicy(p RetryPolicy) SubmitterOption {
	return func(s *Submitter) { s.policy = p }
}

func WithLogger(l *zap.Logger) SubmitterOption {
	return func(s *Submitter) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSubmitter(p Poster, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		poster:  p,
		path:    DefaultPath,
		policy:  DefaultRetryPolicy(),
		decoder: response.NewDecoder(nil),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the retry policy in effect.
func (s *Submitter) Policy() RetryPolicy { return s.policy }

// Submit sends env, making at most maxAttempts attempts. A value below one
// falls back to the policy default. Transient failures are retried with
// backoff; any other failure ends the submission immediately.
func (s *Submitter) Submit(ctx context.Context, env *Envelope, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		maxAttempts = s.policy.MaxAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, &FatalError{Command: env.Command, Certname: env.Certname, Err: err}
	}
	path := s.path + "?" + commandQuery(env).Encode()
	requestID := uuid.NewString()
	header := http.Header{"X-Request-Id": {requestID}}

	log := s.logger.With(
		zap.String("command", env.Command),
		zap.String("certname", env.Certname),
		zap.String("request_id", requestID))

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		res, err := s.attempt(ctx, path, body, header)
		if err == nil {
			res.RequestID = requestID
			res.Attempts = attempt
			log.Debug("command submitted", zap.Int("attempt", attempt), zap.Stringer("uuid", res.UUID))
			return res, nil
		}
		lastErr = err
		if !s.policy.isRetryable(err) {
			break
		}
		if attempt == maxAttempts {
			break
		}
		log.Warn("command submission failed, retrying",
			zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts), zap.Error(err))
		if err := s.policy.backoff(ctx, attempt-1); err != nil {
			lastErr = fmt.Errorf("%w (retry abandoned: %w)", lastErr, err)
			break
		}
	}

	fatal := &FatalError{Command: env.Command, Certname: env.Certname, Attempts: attempt, Err: lastErr}
	log.Error("command submission failed", zap.Int("attempts", attempt), zap.Error(lastErr))
	return nil, fatal
}

func (s *Submitter) attempt(ctx context.Context, path string, body []byte, header http.Header) (*Result, error) {
	resp, err := s.poster.Post(ctx, path, body, header)
	if err != nil {
		return nil, err
	}
	if !response.Success(resp.StatusCode) {
		return nil, response.NewRemoteError(resp.StatusCode, resp.Reason, resp.Body)
	}

	res := &Result{}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return res, nil
	}
	var ack struct {
		UUID string `json:"uuid"`
	}
	if err := s.decoder.Decode(resp.StatusCode, resp.Reason, resp.Body, &ack); err != nil {
		// The command was accepted; an odd acknowledgement is not worth a resend.
		s.logger.Warn("unreadable command acknowledgement", zap.Error(err))
		return res, nil
	}
	if id, err := uuid.Parse(ack.UUID); err == nil {
		res.UUID = id
	}
	return res, nil
}

func commandQuery(env *Envelope) url.Values {
	return url.Values{
		"command":  {strings.ReplaceAll(env.Command, " ", "_")},
		"version":  {strconv.Itoa(env.Version)},
		"certname": {env.Certname},
	}
}
