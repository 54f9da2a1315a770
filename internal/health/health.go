package health

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

const StatusPath = "/status/v1/services/puppetdb-status"

var serviceStatusSchema = map[string]any{
	"type":     "object",
	"required": []string{"state"},
	"properties": map[string]any{
		"state":           map[string]any{"type": "string"},
		"service_version": map[string]any{"type": "string"},
	},
}

type Status struct {
	Server    string
	Reachable bool
	State     string
	Version   string
	Error     string
	Latency   time.Duration
}

// Running reports whether the server answered and considers itself up.
func (s Status) Running() bool {
	return s.Reachable && s.State == "running"
}

// Check asks one PuppetDB server for its service status. Failures are
// reported in Status.Error rather than returned.
func Check(ctx context.Context, server string, d *response.Decoder, opts ...transport.Option) (s Status) {
	s.Server = server
	start := time.Now()
	defer func() { s.Latency = time.Since(start) }()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := transport.New([]string{server}, opts...)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	resp, err := c.Get(ctx, StatusPath)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Reachable = true

	var body struct {
		State   string `json:"state"`
		Version string `json:"service_version"`
	}
	err = d.DecodeShape(resp.StatusCode, resp.Reason, resp.Body, serviceStatusSchema, &body)
	// A server that is starting or stopping answers 503 with a full status
	// body. Anything else on a 503, such as a proxy page, stays an error.
	if err != nil && resp.StatusCode == http.StatusServiceUnavailable {
		if d.DecodeShape(http.StatusOK, resp.Reason, resp.Body, serviceStatusSchema, &body) == nil {
			err = nil
		}
	}
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.State = body.State
	s.Version = body.Version
	return s
}

// CheckAll checks every server concurrently and returns results in the
// order given.
func CheckAll(ctx context.Context, servers []string, d *response.Decoder, opts ...transport.Option) []Status {
	out := make([]Status, len(servers))
	var g errgroup.Group
	for i, server := range servers {
		g.Go(func() error {
			out[i] = Check(ctx, server, d, opts...)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
