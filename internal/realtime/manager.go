// Package realtime keeps one chat channel alive across drops, reconnecting
// with exponential backoff.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VenkatGGG/lendflow/internal/retry"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

var (
	ErrNotConnected = errors.New("realtime channel is not connected")
	ErrEmptyMessage = errors.New("message text is required")
)

// Handlers are read at dispatch time, so replacing them after Connect takes
// effect for the next event.
type Handlers struct {
	OnMessage     func(Message)
	OnHumanActive func()
	OnStatus      func(Status)
}

type Options struct {
	URL       string
	SessionID string
	Token     string
	Enabled   bool
}

type Config struct {
	Backoff      retry.Policy
	MaxRetries   int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// attempt is one transport generation. Events from an attempt that is no
// longer current are dropped.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   Conn
	closed bool
}

func (a *attempt) attach(conn Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.conn = conn
	return true
}

func (a *attempt) connection() Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *attempt) close() {
	if a == nil {
		return
	}
	a.cancel()
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.closed = true
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type pendingRetry struct {
	timer Timer
}

type Manager struct {
	dialer Dialer
	clock  Clock
	cfg    Config
	logger *log.Logger

	handlers atomic.Pointer[Handlers]

	mu      sync.Mutex
	opts    Options
	wanted  bool
	status  Status
	retries int
	current *attempt
	pending *pendingRetry
}

func NewManager(dialer Dialer, clock Clock, cfg Config, logger *log.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff.BaseDelay = 1 * time.Second
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 8
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		dialer: dialer,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		status: StatusIdle,
	}
}

func (m *Manager) SetHandlers(h Handlers) {
	m.handlers.Store(&h)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect starts the channel. It does nothing without a session id, and a
// disabled Options tears down a live channel.
func (m *Manager) Connect(opts Options) {
	opts.URL = strings.TrimSpace(opts.URL)
	opts.SessionID = strings.TrimSpace(opts.SessionID)
	opts.Token = strings.TrimSpace(opts.Token)

	if !opts.Enabled {
		m.stop()
		return
	}
	if opts.SessionID == "" {
		return
	}

	m.mu.Lock()
	live := m.status == StatusConnecting || m.status == StatusConnected
	if m.wanted && live && m.opts == opts {
		m.mu.Unlock()
		return
	}
	m.opts = opts
	m.wanted = true
	m.retries = 0
	m.cancelPendingLocked()
	stale := m.startAttemptLocked()
	m.mu.Unlock()

	stale.close()
	m.notify(StatusConnecting)
}

// Reconnect resumes with the last options after a give-up or Disconnect.
func (m *Manager) Reconnect() bool {
	m.mu.Lock()
	if m.opts.SessionID == "" {
		m.mu.Unlock()
		return false
	}
	m.wanted = true
	m.retries = 0
	m.cancelPendingLocked()
	stale := m.startAttemptLocked()
	m.mu.Unlock()

	stale.close()
	m.notify(StatusConnecting)
	return true
}

// Disconnect cancels any pending retry, closes the transport and resets the
// retry counter. Late events from earlier transports become no-ops.
func (m *Manager) Disconnect() {
	m.stop()
}

// Send writes a chat message on the open transport.
func (m *Manager) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	current := m.current
	opts := m.opts
	status := m.status
	m.mu.Unlock()

	if current == nil || status != StatusConnected || opts.SessionID == "" {
		return ErrNotConnected
	}
	conn := current.connection()
	if conn == nil {
		return ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, chatFrame(opts.SessionID, opts.Token, text)); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

func (m *Manager) stop() {
	m.mu.Lock()
	m.wanted = false
	m.cancelPendingLocked()
	stale := m.current
	m.current = nil
	m.retries = 0
	changed := m.status != StatusIdle && m.status != StatusDisconnected
	if changed {
		m.status = StatusDisconnected
	}
	m.mu.Unlock()

	stale.close()
	if changed {
		m.notify(StatusDisconnected)
	}
}

// startAttemptLocked supersedes the current attempt and returns it so the
// caller can close it after releasing m.mu.
func (m *Manager) startAttemptLocked() *attempt {
	stale := m.current
	ctx, cancel := context.WithCancel(context.Background())
	next := &attempt{ctx: ctx, cancel: cancel}
	m.current = next
	m.status = StatusConnecting
	go m.run(next, m.opts)
	return stale
}

func (m *Manager) cancelPendingLocked() {
	if m.pending == nil {
		return
	}
	m.pending.timer.Stop()
	m.pending = nil
}

func (m *Manager) run(a *attempt, opts Options) {
	dialCtx, cancel := context.WithTimeout(a.ctx, m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(dialCtx, opts.URL)
	cancel()
	if err != nil {
		m.logger.Printf("realtime dial failed: session=%s err=%v", opts.SessionID, err)
		m.handleDrop(a)
		return
	}

	m.mu.Lock()
	if m.current != a || !m.wanted || !a.attach(conn) {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.mu.Unlock()

	// The join frame goes out while the status is still connecting, so
	// nothing sent from a connected handler can precede it.
	writeCtx, cancelWrite := context.WithTimeout(a.ctx, m.cfg.WriteTimeout)
	err = conn.Write(writeCtx, joinFrame(opts.SessionID, opts.Token))
	cancelWrite()
	if err != nil {
		m.logger.Printf("realtime join failed: session=%s err=%v", opts.SessionID, err)
		m.handleDrop(a)
		return
	}

	m.mu.Lock()
	if m.current != a || !m.wanted {
		m.mu.Unlock()
		return
	}
	m.retries = 0
	m.status = StatusConnected
	m.mu.Unlock()

	m.logger.Printf("realtime connected: session=%s", opts.SessionID)
	if m.live(a) {
		m.notify(StatusConnected)
	}

	for {
		data, err := conn.Read(a.ctx)
		if err != nil {
			m.handleDrop(a)
			return
		}
		m.dispatch(a, data)
	}
}

func (m *Manager) handleDrop(a *attempt) {
	m.mu.Lock()
	if m.current != a || !m.wanted {
		m.mu.Unlock()
		a.close()
		return
	}
	m.current = nil

	if m.retries >= m.cfg.MaxRetries {
		m.status = StatusDisconnected
		m.wanted = false
		retries := m.retries
		m.mu.Unlock()

		a.close()
		m.logger.Printf("realtime giving up after %d retries", retries)
		m.notify(StatusDisconnected)
		return
	}

	m.retries++
	delay := m.cfg.Backoff.Delay(m.retries)
	pending := &pendingRetry{}
	m.pending = pending
	m.status = StatusReconnecting
	pending.timer = m.clock.AfterFunc(delay, func() {
		m.fireRetry(pending)
	})
	retries := m.retries
	m.mu.Unlock()

	a.close()
	m.logger.Printf("realtime connection lost; retry %d/%d in %s", retries, m.cfg.MaxRetries, delay)
	m.notify(StatusReconnecting)
}

func (m *Manager) fireRetry(p *pendingRetry) {
	m.mu.Lock()
	if m.pending != p || !m.wanted {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	stale := m.startAttemptLocked()
	m.mu.Unlock()

	stale.close()
	m.notify(StatusConnecting)
}

// dispatch hands one inbound frame to the handlers. Liveness is checked
// right before each call; a Disconnect that starts after the check may
// still overlap the handler.
func (m *Manager) dispatch(a *attempt, data []byte) {
	kind, msg := classifyInbound(data)
	h := m.handlers.Load()
	if h == nil || !m.live(a) {
		return
	}
	switch kind {
	case inboundHumanActive:
		if h.OnHumanActive != nil {
			h.OnHumanActive()
		}
	case inboundMessage:
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

func (m *Manager) live(a *attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == a && m.wanted
}

func (m *Manager) notify(status Status) {
	h := m.handlers.Load()
	if h == nil || h.OnStatus == nil {
		return
	}
	h.OnStatus(status)
}
