package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/logging"
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Prober checks reachability with an HTTP HEAD request and reports the
// result to a Monitor.
type Prober struct {
	cfg     ProberConfig
	client  *http.Client
	monitor *Monitor
}

// NewProber creates a Prober. A nil client uses http.DefaultTransport.
func NewProber(monitor *Monitor, cfg ProberConfig, client *http.Client) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{cfg: cfg, client: client, monitor: monitor}
}

// Probe issues one request. Any response below 500 counts as reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		logging.Warn("Invalid probe request", map[string]interface{}{"url": p.cfg.URL, "error": err.Error()})
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Probe failed", map[string]interface{}{"url": p.cfg.URL, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Check probes once and feeds the result to the monitor.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.Probe(ctx)
	p.monitor.SetOnline(ctx, online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
