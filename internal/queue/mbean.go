package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

const (
	DefaultMetricsPath = "/metrics/mbean"
	// CommandQueueMBean is the broker queue PuppetDB feeds commands through.
	CommandQueueMBean = "org.apache.activemq:BrokerName=localhost,Type=Queue,Destination=com.puppetlabs.puppetdb.commands"
)

var queueSizeSchema = map[string]any{
	"type":     "object",
	"required": []string{"QueueSize"},
	"properties": map[string]any{
		"QueueSize": map[string]any{"type": "integer", "minimum": 0},
	},
}

type Getter interface {
	Get(ctx context.Context, path string) (*transport.Response, error)
}

// MBeanPoller reads QueueSize from the metrics endpoint.
type MBeanPoller struct {
	getter  Getter
	decoder *response.Decoder
	path    string
}

func NewMBeanPoller(g Getter, d *response.Decoder, metricsPath, mbean string) *MBeanPoller {
	if metricsPath == "" {
		metricsPath = DefaultMetricsPath
	}
	if mbean == "" {
		mbean = CommandQueueMBean
	}
	return &MBeanPoller{
		getter:  g,
		decoder: d,
		path:    metricsPath + "/" + url.QueryEscape(mbean),
	}
}

// QueueSize satisfies SizeFunc.
func (p *MBeanPoller) QueueSize(ctx context.Context) (int, error) {
	resp, err := p.getter.Get(ctx, p.path)
	if err != nil {
		return 0, err
	}
	var metrics struct {
		QueueSize json.Number `json:"QueueSize"`
	}
	if err := p.decoder.DecodeShape(resp.StatusCode, resp.Reason, resp.Body, queueSizeSchema, &metrics); err != nil {
		return 0, fmt.Errorf("read %s: %w", p.path, err)
	}
	n, err := metrics.QueueSize.Int64()
	if err != nil {
		return 0, fmt.Errorf("read %s: QueueSize %q is not an integer", p.path, metrics.QueueSize)
	}
	return int(n), nil
}
