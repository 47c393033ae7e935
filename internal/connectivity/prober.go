package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ecodex/offline/internal/logging"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 5 * time.Second

// Prober confirms reachability with HEAD requests against a health endpoint
// and feeds the result into a Monitor.
type Prober struct {
	monitor  *Monitor
	client   *http.Client
	url      string
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewProber creates a Prober for healthURL. A nil client uses a plain
// http.Client with DefaultProbeTimeout.
func NewProber(monitor *Monitor, client *http.Client, healthURL string, interval time.Duration) *Prober {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &Prober{
		monitor:  monitor,
		client:   client,
		url:      healthURL,
		interval: interval,
	}
}

// Check performs one probe. It returns false without touching the network
// when the monitor already reports offline, otherwise true only on a 2xx.
func (p *Prober) Check(ctx context.Context) bool {
	if !p.monitor.IsOnline() {
		return false
	}
	return p.probe(ctx)
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Health probe failed", map[string]interface{}{"url": p.url, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Start probes every interval until ctx is done or Stop is called. Unlike
// Check, the loop also probes while offline so recovery is noticed.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.active || p.interval <= 0 {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				p.monitor.SetOnline(p.probe(ctx))
			}
		}
	}()

	logging.Info("Connectivity prober started", map[string]interface{}{
		"url":      p.url,
		"interval": p.interval.String(),
	})
}

// Stop halts the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}
