// Package connectivity tracks whether the directory is reachable and
// notifies listeners of transitions.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Monitor exposes the current online state and a transition feed. A true
// value on Changes means connectivity was restored.
type Monitor interface {
	Online() bool
	Changes() <-chan bool
}

// Manual is a settable monitor. It backs tests and dev mode, and Probe
// embeds it for state handling.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

// NewManual creates a monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Changes returns a fresh subscription delivering state transitions.
// Each channel holds one pending notification; a consumer that lags
// sees only the latest transition, which is all the sync engine needs.
func (m *Manual) Changes() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// Set records a state change and notifies every subscriber, dropping a
// notification when that subscriber already has one pending.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Probe polls an HTTP health endpoint to derive the online state.
type Probe struct {
	*Manual
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProbe creates a probe against a health URL. The probe starts
// offline until the first successful check.
func NewProbe(url string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Probe{
		Manual:   NewManual(false),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Run polls until ctx is canceled.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Set(p.check(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.check(ctx)
			if online != p.Online() {
				log.Printf("connectivity changed: online=%v", online)
			}
			p.Set(online)
		}
	}
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
