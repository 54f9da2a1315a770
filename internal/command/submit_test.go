package command

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

// fakePoster replays scripted results and records every call.
type fakePoster struct {
	mu      sync.Mutex
	results []func() (*transport.Response, error)
	calls   []http.Header
	paths   []string
	bodies  [][]byte
}

func (f *fakePoster) Post(ctx context.Context, path string, body []byte, header http.Header) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, header)
	f.paths = append(f.paths, path)
	f.bodies = append(f.bodies, body)
	i := len(f.calls) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]()
}

func status(code int, body string) func() (*transport.Response, error) {
	return func() (*transport.Response, error) {
		return &transport.Response{StatusCode: code, Reason: http.StatusText(code), Body: []byte(body)}, nil
	}
}

func refused() func() (*transport.Response, error) {
	return func() (*transport.Response, error) {
		return nil, &transport.ConnectionError{Method: "POST", Path: DefaultPath, Err: errors.New("dial tcp: connection refused")}
	}
}

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.BaseDelay = 0
	return p
}

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := Build(ReplaceFacts, ReplaceFactsVersion, "node1", func() (any, error) {
		return map[string]any{"certname": "node1"}, nil
	}, time.Unix(0, 0), "master")
	require.NoError(t, err)
	return env
}

func TestSubmit_Success(t *testing.T) {
	id := uuid.New()
	p := &fakePoster{results: []func() (*transport.Response, error){status(200, `{"uuid":"`+id.String()+`"}`)}}
	s := NewSubmitter(p, WithRetryPolicy(fastPolicy()))

	res, err := s.Submit(context.Background(), testEnvelope(t), 3)
	require.NoError(t, err)
	assert.Equal(t, id, res.UUID)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "/pdb/cmd/v1?certname=node1&command=replace_facts&version=5", p.paths[0])

	var sent map[string]any
	require.NoError(t, json.Unmarshal(p.bodies[0], &sent))
	assert.Equal(t, "replace facts", sent["command"])
	assert.Equal(t, "1970-01-01T00:00:00.000Z", sent["producer_timestamp"])
}

func TestSubmit_RetriesTransientThenFails(t *testing.T) {
	p := &fakePoster{results: []func() (*transport.Response, error){refused(), status(500, "oops\n")}}
	s := NewSubmitter(p, WithRetryPolicy(fastPolicy()))

	_, err := s.Submit(context.Background(), testEnvelope(t), 4)
	require.Error(t, err)
	assert.Len(t, p.calls, 4)
	assert.ErrorIs(t, err, ErrSubmissionFatal)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 4, fatal.Attempts)

	var rerr *response.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 500, rerr.StatusCode)
	assert.Equal(t, "oops", rerr.Body)
}

func TestSubmit_SameRequestIDAcrossAttempts(t *testing.T) {
	p := &fakePoster{results: []func() (*transport.Response, error){status(503, ""), status(200, "")}}
	s := NewSubmitter(p, WithRetryPolicy(fastPolicy()))

	res, err := s.Submit(context.Background(), testEnvelope(t), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, uuid.Nil, res.UUID)
	require.Len(t, p.calls, 2)
	assert.Equal(t, p.calls[0].Get("X-Request-Id"), p.calls[1].Get("X-Request-Id"))
	assert.Equal(t, p.bodies[0], p.bodies[1])
}

func TestSubmit_ExplicitRetryStatus(t *testing.T) {
	p := &fakePoster{results: []func() (*transport.Response, error){status(429, "queue full"), status(200, `{"uuid":"x"}`)}}
	s := NewSubmitter(p, WithRetryPolicy(fastPolicy()))

	res, err := s.Submit(context.Background(), testEnvelope(t), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestSubmit_PermanentFailureStopsImmediately(t *testing.T) {
	p := &fakePoster{results: []func() (*transport.Response, error){status(400, "bad command")}}
	s := NewSubmitter(p, WithRetryPolicy(fastPolicy()))

	_, err := s.Submit(context.Background(), testEnvelope(t), 5)
	require.Error(t, err)
	assert.Len(t, p.calls, 1)
	assert.ErrorIs(t, err, ErrSubmissionFatal)
	assert.Contains(t, err.Error(), "after 1 attempt(s)")
	assert.Contains(t, err.Error(), "[400 Bad Request] bad command")
}

func TestSubmit_DefaultAttemptsFromPolicy(t *testing.T) {
	p := &fakePoster{results: []func() (*transport.Response, error){status(502, "")}}
	policy := fastPolicy()
	policy.MaxAttempts = 2
	s := NewSubmitter(p, WithRetryPolicy(policy))

	_, err := s.Submit(context.Background(), testEnvelope(t), 0)
	require.Error(t, err)
	assert.Len(t, p.calls, 2)
}

func TestSubmit_CancelledDuringBackoff(t *testing.T) {
	p := &fakePoster{results: []func() (*transport.Response, error){status(503, "")}}
	policy := DefaultRetryPolicy()
	policy.BaseDelay = time.Hour
	s := NewSubmitter(p, WithRetryPolicy(policy))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, testEnvelope(t), 3)
	require.Error(t, err)
	assert.Len(t, p.calls, 1)
	assert.ErrorIs(t, err, ErrSubmissionFatal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "retry abandoned: context deadline exceeded")

	var rerr *response.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 503, rerr.StatusCode)
}

func TestSubmit_OverHTTP(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		assert.Equal(t, DefaultPath, r.URL.Path)
		assert.Equal(t, "replace_facts", r.URL.Query().Get("command"))
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"uuid":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`))
	}))
	defer srv.Close()

	client, err := transport.New([]string{srv.URL})
	require.NoError(t, err)
	s := NewSubmitter(client, WithRetryPolicy(fastPolicy()))

	res, err := s.Submit(context.Background(), testEnvelope(t), 3)
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", res.UUID.String())
	assert.Equal(t, 2, hits)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, time.Second, p.delay(10))
	assert.Equal(t, time.Second, p.delay(40))
	assert.Equal(t, time.Second, p.delay(70))

	defaults := DefaultRetryPolicy()
	for _, n := range []int{34, 35, 36, 63, 64} {
		assert.Equal(t, defaults.MaxDelay, defaults.delay(n), "attempt %d", n)
	}

	uncapped := RetryPolicy{BaseDelay: time.Second}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.delay(64))
}

func TestRetryPolicy_IsRetryable(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.True(t, p.isRetryable(response.NewRemoteError(500, "", nil)))
	assert.True(t, p.isRetryable(response.NewRemoteError(429, "", nil)))
	assert.False(t, p.isRetryable(response.NewRemoteError(404, "", nil)))
	assert.False(t, p.isRetryable(errors.New("plain")))
	assert.True(t, p.isRetryable(&transport.ConnectionError{Err: errors.New("refused")}))
	assert.False(t, p.isRetryable(&transport.ConnectionError{Err: context.Canceled}))
}
