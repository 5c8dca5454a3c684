// Package browser manages the headless Chrome used to render Mermaid
// diagrams and to rasterize exports: lazy launch through go-rod's
// launcher, time-based recycling and reconnect after a crash.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the manager.
type Config struct {
	// RemoteURL is the DevTools websocket of an external Chrome. Empty
	// launches a local one.
	RemoteURL string
	// Bin overrides the Chrome binary. Empty lets the launcher find or
	// download one.
	Bin string
	// RecycleInterval is the maximum lifetime of a Chrome process.
	// Default: 1h.
	RecycleInterval time.Duration
	Logger          *log.Logger
}

func (c *Config) defaults() {
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = time.Hour
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// RecycleFunc is called after Chrome restarted so holders of pages can
// rebuild them.
type RecycleFunc func(b *rod.Browser)

// Manager owns one Chrome process.
type Manager struct {
	cfg       Config
	mu        sync.RWMutex
	browser   *rod.Browser
	lnch      *launcher.Launcher
	startAt   time.Time
	closed    bool
	onRecycle []RecycleFunc
	stop      context.CancelFunc
}

// NewManager returns a manager. Chrome starts on first use.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// OnRecycle registers fn to run after every recycle.
func (m *Manager) OnRecycle(fn RecycleFunc) {
	m.mu.Lock()
	m.onRecycle = append(m.onRecycle, fn)
	m.mu.Unlock()
}

// Browser returns the running browser, starting it if needed.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.RLock()
	b, closed := m.browser, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if b != nil {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.stop = cancel
	go m.monitorLoop(loopCtx)
	return b, nil
}

// Page opens a blank tab sized to the given viewport.
func (m *Manager) Page(ctx context.Context, width, height int, scale float64) (*rod.Page, error) {
	b, err := m.Browser(ctx)
	if err != nil {
		return nil, err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if scale <= 0 {
		scale = 1
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: scale,
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}
	return page, nil
}

// Recycle restarts Chrome.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.cfg.Logger.Info("recycling browser", "uptime", time.Since(m.startAt).Round(time.Second))
	m.cleanup()
	b, err := m.launch()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	fns := append([]RecycleFunc(nil), m.onRecycle...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(b)
	}
	return nil
}

// Close shuts Chrome down. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.stop != nil {
		m.stop()
	}
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-gpu")
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Debug("launched local chrome", "url", wsURL)
	} else {
		m.cfg.Logger.Debug("connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser close", "err", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.mu.RLock()
		b, startAt, closed := m.browser, m.startAt, m.closed
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		if time.Since(startAt) > m.cfg.RecycleInterval {
			if err := m.Recycle(); err != nil {
				m.cfg.Logger.Error("browser recycle failed", "err", err)
			}
			continue
		}
		if _, err := b.Version(); err != nil {
			m.cfg.Logger.Warn("browser unresponsive, restarting", "err", err)
			if err := m.Recycle(); err != nil {
				m.cfg.Logger.Error("browser recycle failed", "err", err)
			}
		}
	}
}
