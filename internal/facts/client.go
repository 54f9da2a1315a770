package facts

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jeanpaul/pdbfacts/internal/command"
	"github.com/jeanpaul/pdbfacts/internal/query"
	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

const (
	DefaultQueryPath = "/pdb/query/v4"

	// inventoryKey is reserved for the package inventory the agent collects.
	// It is never sent as a fact.
	inventoryKey = "_puppet_inventory_1"
	trustedKey   = "trusted"
)

var (
	// ErrNotFound is returned by Find when PuppetDB knows nothing about a node.
	ErrNotFound = response.ErrNotFound
	// ErrSearch wraps every failure of Search.
	ErrSearch = errors.New("fact search failed")
)

// Transport is what the client needs from the HTTP layer.
type Transport interface {
	Get(ctx context.Context, path string) (*transport.Response, error)
	Post(ctx context.Context, path string, body []byte, header http.Header) (*transport.Response, error)
}

// Facts is a node's fact set.
type Facts struct {
	Certname string
	Values   map[string]any
}

// SaveRequest describes one replace facts submission.
type SaveRequest struct {
	Certname    string
	Values      map[string]any
	Environment string
	// Trusted is stored under the "trusted" fact when non-nil.
	Trusted map[string]any
	// Now is the producer timestamp; zero means time.Now().
	Now time.Time
}

// Client saves, finds, and searches facts in PuppetDB.
type Client struct {
	transport   Transport
	submitter   *command.Submitter
	decoder     *response.Decoder
	queryPath   string
	producer    string
	maxAttempts int
	logger      *zap.Logger
}

type Option func(*Client)

func WithQueryPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.queryPath = p
		}
	}
}

// WithProducer sets the producer recorded on submitted commands.
func WithProducer(p string) Option {
	return func(c *Client) { c.producer = p }
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(t Transport, s *command.Submitter, d *response.Decoder, opts ...Option) *Client {
	c := &Client{
		transport: t,
		submitter: s,
		decoder:   d,
		queryPath: DefaultQueryPath,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type replaceFactsPayload struct {
	Certname          string         `json:"certname"`
	Values            map[string]any `json:"values"`
	Environment       string         `json:"environment"`
	ProducerTimestamp string         `json:"producer_timestamp"`
	Producer          string         `json:"producer"`
	PackageInventory  any            `json:"package_inventory,omitempty"`
}

// Save submits a "replace facts" command. The caller's Values map is
// never modified.
func (c *Client) Save(ctx context.Context, req SaveRequest) (*command.Result, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	log := c.logger.With(zap.String("op", "facts#save"), zap.String("certname", req.Certname))
	start := time.Now()

	env, err := command.Build(command.ReplaceFacts, command.ReplaceFactsVersion, req.Certname, func() (any, error) {
		return c.payload(req, now), nil
	}, now, c.producer)
	if err != nil {
		return nil, fmt.Errorf("save facts for %s: %w", req.Certname, err)
	}

	res, err := c.submitter.Submit(ctx, env, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	log.Debug("facts saved", zap.Duration("elapsed", time.Since(start)), zap.Int("attempts", res.Attempts))
	return res, nil
}

func (c *Client) payload(req SaveRequest, now time.Time) replaceFactsPayload {
	values, inventory := prepareValues(req.Values, req.Trusted)
	return replaceFactsPayload{
		Certname:          req.Certname,
		Values:            values,
		Environment:       req.Environment,
		ProducerTimestamp: command.WireTime(now),
		Producer:          c.producer,
		PackageInventory:  inventory,
	}
}

// prepareValues copies values, drops the reserved inventory key and returns
// its "packages" entry separately. Only the top level is rewritten, so a
// shallow copy is enough to leave the caller's map untouched.
func prepareValues(values, trusted map[string]any) (map[string]any, any) {
	out := maps.Clone(values)
	if out == nil {
		out = map[string]any{}
	}
	if trusted != nil {
		out[trustedKey] = trusted
	}

	var packages any
	if inv, ok := out[inventoryKey]; ok {
		if m, ok := inv.(map[string]any); ok {
			packages = m["packages"]
		}
		delete(out, inventoryKey)
	}
	return out, packages
}

// nodeRecord accepts both the legacy "name" field and v4's "certname".
type nodeRecord struct {
	Name     string `json:"name"`
	Certname string `json:"certname"`
}

func (n nodeRecord) name() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Certname
}

type factRecord struct {
	Certname    string `json:"certname,omitempty"`
	Environment string `json:"environment,omitempty"`
	Name        string `json:"name"`
	Value       any    `json:"value"`
}

// Find returns the facts PuppetDB holds for certname. An unknown node yields
// ErrNotFound, which callers can treat as "no data".
func (c *Client) Find(ctx context.Context, certname string) (*Facts, error) {
	path := fmt.Sprintf("%s/nodes/%s/facts", c.queryPath, url.QueryEscape(certname))

	resp, err := c.transport.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to find facts from PuppetDB for %s: %w", certname, err)
	}
	c.logDeprecation(resp)

	var records []factRecord
	if err := c.decoder.DecodeShape(resp.StatusCode, resp.Reason, resp.Body, factRecordsSchema, &records); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find facts from PuppetDB for %s: %w", certname, err)
	}

	values := make(map[string]any, len(records))
	for _, r := range records {
		values[r.Name] = r.Value
	}
	return &Facts{Certname: certname, Values: values}, nil
}

// Search returns the names of nodes whose facts match every constraint.
// See query.Compile for the constraint syntax. No request is made when
// constraints is empty.
func (c *Client) Search(ctx context.Context, constraints map[string]any) ([]string, error) {
	if len(constraints) == 0 {
		return []string{}, nil
	}

	q, err := query.Compile(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	escaped, err := q.Escape()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}

	resp, err := c.transport.Get(ctx, c.queryPath+"/nodes?query="+escaped)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	c.logDeprecation(resp)

	var nodes []nodeRecord
	if err := c.decoder.DecodeShape(resp.StatusCode, resp.Reason, resp.Body, nodeRecordsSchema, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.name())
	}
	return names, nil
}

func (c *Client) logDeprecation(resp *transport.Response) {
	if msg := resp.Header.Get(transport.HeaderDeprecation); msg != "" {
		c.logger.Warn("deprecation warning from PuppetDB",
			zap.String("url", resp.URL), zap.String("message", msg))
	}
}
