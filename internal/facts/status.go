package facts

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/pdbfacts/internal/response"
)

var ErrNoNodes = errors.New("provide at least one node")

// statusConcurrency bounds parallel node lookups.
const statusConcurrency = 8

// NodeStatus is what PuppetDB knows about a node's lifecycle.
type NodeStatus struct {
	Certname         string  `json:"certname"`
	Found            bool    `json:"-"`
	Deactivated      *string `json:"deactivated"`
	Expired          *string `json:"expired"`
	FactsTimestamp   *string `json:"facts_timestamp"`
	CatalogTimestamp *string `json:"catalog_timestamp"`
	ReportTimestamp  *string `json:"report_timestamp"`
	FactsEnvironment *string `json:"facts_environment"`
}

// Active reports whether the node exists and is neither deactivated nor expired.
func (s NodeStatus) Active() bool {
	return s.Found && s.Deactivated == nil && s.Expired == nil
}

// Status looks up every certname concurrently. Results keep the argument
// order; unknown nodes come back with Found=false.
func (c *Client) Status(ctx context.Context, certnames ...string) ([]NodeStatus, error) {
	if len(certnames) == 0 {
		return nil, ErrNoNodes
	}

	out := make([]NodeStatus, len(certnames))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(statusConcurrency)
	for i, name := range certnames {
		g.Go(func() error {
			st, err := c.status(ctx, name)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) status(ctx context.Context, certname string) (NodeStatus, error) {
	resp, err := c.transport.Get(ctx, c.queryPath+"/nodes/"+url.QueryEscape(certname))
	if err != nil {
		return NodeStatus{}, fmt.Errorf("node status for %s: %w", certname, err)
	}
	c.logDeprecation(resp)

	var st NodeStatus
	if err := c.decoder.DecodeShape(resp.StatusCode, resp.Reason, resp.Body, nodeStatusSchema, &st); err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return NodeStatus{Certname: certname}, nil
		}
		return NodeStatus{}, fmt.Errorf("node status for %s: %w", certname, err)
	}
	st.Found = true
	return st, nil
}
