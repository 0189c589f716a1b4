// Package connectivity turns periodic HTTP probes into reachability
// transitions for the sync orchestrator.
package connectivity

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultInterval     = 10 * time.Second
	maxProbeTimeout     = 5 * time.Second
	subscriberBufferLen = 4
)

type Params struct {
	fx.In

	Config      config.Config
	Credentials gateway.Credentials
	Log         *zap.Logger
	HTTPClient  *http.Client `optional:"true"`
}

// Probe checks a URL on an interval and publishes every change in
// reachability. The first observation always counts as a change.
type Probe struct {
	url      string
	interval time.Duration
	creds    gateway.Credentials
	client   *http.Client
	log      *zap.Logger

	mu    sync.Mutex
	known bool
	up    bool
	subs  []chan bool
}

func NewProbe(p Params) *Probe {
	interval := p.Config.ProbeInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	url := strings.TrimSpace(p.Config.ProbeURL)
	if url == "" {
		url = strings.TrimSpace(p.Config.APIBaseURL)
	}
	client := p.HTTPClient
	if client == nil {
		timeout := interval
		if timeout > maxProbeTimeout {
			timeout = maxProbeTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{
		url:      url,
		interval: interval,
		creds:    p.Credentials,
		client:   client,
		log:      log.Named("connectivity"),
	}
}

// Subscribe returns a channel receiving reachability transitions. A slow
// subscriber only loses stale values; the latest state is always delivered.
func (p *Probe) Subscribe() <-chan bool {
	ch := make(chan bool, subscriberBufferLen)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Connected reports the last observed state and whether any was observed.
func (p *Probe) Connected() (connected, known bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.up, p.known
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if target, ok := p.target(); ok {
			p.Set(p.Check(ctx, target))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check reports whether target answered at all. Any HTTP status counts as
// reachable; only transport failures mean the network is down.
func (p *Probe) Check(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		p.log.Warn("probe.request.invalid", zap.String("url", target), zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Debug("probe.unreachable", zap.String("url", target), zap.Error(err))
		}
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}

// Set records an observation and notifies subscribers when it differs from
// the previous one.
func (p *Probe) Set(connected bool) {
	p.mu.Lock()
	if p.known && p.up == connected {
		p.mu.Unlock()
		return
	}
	p.known = true
	p.up = connected
	subs := append([]chan bool(nil), p.subs...)
	p.mu.Unlock()

	p.log.Info("reachability.changed", zap.Bool("connected", connected))
	for _, ch := range subs {
		publish(ch, connected)
	}
}

func publish(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// target resolves the probe URL. Tenant templated URLs wait for a session.
func (p *Probe) target() (string, bool) {
	if p.url == "" {
		return "", false
	}
	if !strings.Contains(p.url, gateway.TenantPlaceholder) {
		return p.url, true
	}
	_, tenant, ok := p.creds.Credentials(context.Background())
	if !ok || tenant == "" {
		return "", false
	}
	return strings.ReplaceAll(p.url, gateway.TenantPlaceholder, tenant), true
}
