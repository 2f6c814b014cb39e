package services

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"airnode/models"
)

// SimRadioConfig controls how flaky the simulated radio is
type SimRadioConfig struct {
	Networks     []models.Network
	ConnectDelay time.Duration
	SuccessRate  float64 // probability a connect request associates
	DropRate     float64 // probability an established link is lost on each IsConnected check
	RSSIJitter   int32
}

// SimRadio is a host stand-in for the radio chip. Association completes
// ConnectDelay after the connect request, driven by the clock.
type SimRadio struct {
	cfg   SimRadioConfig
	clock Clock
	rng   *rand.Rand

	mu          sync.Mutex
	active      bool
	status      models.LinkStatus
	connectAt   time.Time
	willConnect bool
}

// NewSimRadio creates a simulated radio seeded with seed
func NewSimRadio(cfg SimRadioConfig, clock Clock, seed int64) *SimRadio {
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = 2 * time.Second
	}
	return &SimRadio{
		cfg:    cfg,
		clock:  clock,
		rng:    rand.New(rand.NewSource(seed)),
		status: models.LinkIdle,
	}
}

func (r *SimRadio) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *SimRadio) Activate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	return nil
}

func (r *SimRadio) Connect(ssid, passphrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return errors.New("wifi interface not active")
	}
	if _, ok := r.lookup(ssid); !ok {
		r.status = models.LinkNoAPFound
		return nil
	}
	r.status = models.LinkConnecting
	r.connectAt = r.clock.Now().Add(r.cfg.ConnectDelay)
	r.willConnect = r.rng.Float64() < r.cfg.SuccessRate
	return nil
}

func (r *SimRadio) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = models.LinkIdle
	return nil
}

func (r *SimRadio) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()

	if r.status == models.LinkGotIP && r.cfg.DropRate > 0 && r.rng.Float64() < r.cfg.DropRate {
		r.status = models.LinkConnectFail
	}
	return r.status == models.LinkGotIP
}

func (r *SimRadio) Status() models.LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.status
}

func (r *SimRadio) Scan() ([]models.Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil, errors.New("wifi scan failed: interface not active")
	}
	networks := make([]models.Network, 0, len(r.cfg.Networks))
	for _, n := range r.cfg.Networks {
		if r.cfg.RSSIJitter > 0 {
			n.RSSI += r.rng.Int31n(2*r.cfg.RSSIJitter+1) - r.cfg.RSSIJitter
		}
		networks = append(networks, n)
	}
	return networks, nil
}

func (r *SimRadio) advance() {
	if r.status != models.LinkConnecting || r.clock.Now().Before(r.connectAt) {
		return
	}
	if r.willConnect {
		r.status = models.LinkGotIP
	} else {
		r.status = models.LinkConnectFail
	}
}

func (r *SimRadio) lookup(ssid string) (models.Network, bool) {
	for _, n := range r.cfg.Networks {
		if n.SSID == ssid {
			return n, true
		}
	}
	return models.Network{}, false
}
