// Package submission sends financing applications so that retries,
// double-clicks and concurrent callers never produce duplicate records.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/VenkatGGG/lendflow/internal/dedupkey"
	"github.com/VenkatGGG/lendflow/internal/kvstore"
	"github.com/VenkatGGG/lendflow/internal/retry"
)

type Kind string

const (
	KindReadiness Kind = "readiness"
	KindContact   Kind = "contact"
)

// Payload is a submission body. Only the identity fields are interpreted;
// everything else is forwarded untouched.
type Payload map[string]any

// ErrSubmissionFailed is what users see once transient retries run out.
var ErrSubmissionFailed = errors.New("we couldn't submit your application right now, please try again in a moment")

var ErrKindRequired = errors.New("submission kind is required")

// SubmitError reports an exhausted submission. Its message is always the
// user-facing ErrSubmissionFailed text; Unwrap exposes the network cause.
type SubmitError struct {
	Kind     Kind
	Attempts int
	Cause    error
}

func (e *SubmitError) Error() string {
	return ErrSubmissionFailed.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Cause
}

func (e *SubmitError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

// Sender performs one network attempt.
type Sender interface {
	Send(ctx context.Context, kind Kind, payload Payload, idempotencyKey string) (json.RawMessage, error)
}

// SessionProbe looks for a session the backend already holds for this
// client. It returns a JSON object that may carry email and phone; an empty
// result means nothing was found.
type SessionProbe func(ctx context.Context) (json.RawMessage, error)

type Config struct {
	EmailField string
	PhoneField string
	Retry      retry.Policy
	Probe      SessionProbe
}

type Coalescer struct {
	sender   Sender
	store    kvstore.Store
	sessions *Sessions
	cfg      Config
	logger   *log.Logger

	inflight singleflight.Group
}

func NewCoalescer(sender Sender, store kvstore.Store, cfg Config, logger *log.Logger) *Coalescer {
	if strings.TrimSpace(cfg.EmailField) == "" {
		cfg.EmailField = "email"
	}
	if strings.TrimSpace(cfg.PhoneField) == "" {
		cfg.PhoneField = "phone"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 2
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 300 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coalescer{
		sender:   sender,
		store:    store,
		sessions: NewSessions(store, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// Sessions exposes the session identifier slots this coalescer writes to.
func (c *Coalescer) Sessions() *Sessions {
	return c.sessions
}

// Submit sends payload once per identity. Callers arriving while a
// submission of the same kind is outstanding share its outcome; a payload
// matching a completed submission is answered from the cache.
//
// Cancelling ctx only stops this caller from waiting: the shared attempt
// keeps running so its result is still cached.
func (c *Coalescer) Submit(ctx context.Context, kind Kind, payload Payload) (json.RawMessage, error) {
	kind = Kind(strings.TrimSpace(string(kind)))
	if kind == "" {
		return nil, ErrKindRequired
	}

	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(string(kind), func() (any, error) {
		return c.submit(detached, kind, payload)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		body := res.Val.(json.RawMessage)
		return append(json.RawMessage(nil), body...), nil
	}
}

// Forget drops the cached result for payload's identity.
func (c *Coalescer) Forget(ctx context.Context, kind Kind, payload Payload) error {
	key := c.keyFor(payload)
	if !key.Dedupable() {
		return nil
	}
	return c.store.Remove(ctx, cacheKey(kind, key))
}

func (c *Coalescer) submit(ctx context.Context, kind Kind, payload Payload) (json.RawMessage, error) {
	key := c.keyFor(payload)

	if key.Dedupable() {
		if cached, ok := c.cached(ctx, kind, key); ok {
			c.sessions.SaveFromResponse(ctx, cached)
			return cached, nil
		}
		if existing, ok := c.probeExisting(ctx, payload); ok {
			c.logger.Printf("submission matched existing session: kind=%s", kind)
			c.remember(ctx, kind, key, existing)
			c.sessions.SaveFromResponse(ctx, existing)
			return existing, nil
		}
	}

	token := idempotencyToken(kind, key)
	var body json.RawMessage
	attempts, err := c.cfg.Retry.Do(ctx, retry.IsTransient, func(ctx context.Context, attempt int) error {
		out, err := c.sender.Send(ctx, kind, payload, token)
		if err != nil {
			c.logger.Printf("submission attempt failed: kind=%s attempt=%d err=%v", kind, attempt, err)
			return err
		}
		body = out
		return nil
	})
	if err != nil {
		if retry.IsTransient(err) {
			return nil, &SubmitError{Kind: kind, Attempts: attempts, Cause: err}
		}
		return nil, fmt.Errorf("submit %s: %w", kind, err)
	}

	if key.Dedupable() {
		c.remember(ctx, kind, key, body)
	}
	c.sessions.SaveFromResponse(ctx, body)
	return body, nil
}

func (c *Coalescer) keyFor(payload Payload) dedupkey.Key {
	return dedupkey.FromFields(payload, c.cfg.EmailField, c.cfg.PhoneField)
}

func (c *Coalescer) cached(ctx context.Context, kind Kind, key dedupkey.Key) (json.RawMessage, bool) {
	raw, ok, err := c.store.Get(ctx, cacheKey(kind, key))
	if err != nil {
		c.logger.Printf("submission cache read failed: kind=%s err=%v", kind, err)
		return nil, false
	}
	if !ok || !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(raw), true
}

func (c *Coalescer) remember(ctx context.Context, kind Kind, key dedupkey.Key, body json.RawMessage) {
	if err := c.store.Set(ctx, cacheKey(kind, key), body); err != nil {
		c.logger.Printf("submission cache write failed: kind=%s err=%v", kind, err)
	}
}

// probeExisting matches on normalized email OR phone.
func (c *Coalescer) probeExisting(ctx context.Context, payload Payload) (json.RawMessage, bool) {
	if c.cfg.Probe == nil {
		return nil, false
	}
	raw, err := c.cfg.Probe(ctx)
	if err != nil {
		c.logger.Printf("session probe failed: %v", err)
		return nil, false
	}
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, false
	}

	var found map[string]any
	if err := json.Unmarshal(raw, &found); err != nil {
		return nil, false
	}

	wantEmail := dedupkey.Normalize(dedupkey.Field(payload, c.cfg.EmailField))
	wantPhone := dedupkey.Normalize(dedupkey.Field(payload, c.cfg.PhoneField))
	gotEmail := dedupkey.Normalize(dedupkey.Field(found, "email"))
	gotPhone := dedupkey.Normalize(dedupkey.Field(found, "phone"))

	if wantEmail != "" && wantEmail == gotEmail {
		return raw, true
	}
	if wantPhone != "" && wantPhone == gotPhone {
		return raw, true
	}
	return nil, false
}

func cacheKey(kind Kind, key dedupkey.Key) string {
	return kvstore.Join("submission", string(kind), key.String())
}

func idempotencyToken(kind Kind, key dedupkey.Key) string {
	if !key.Dedupable() {
		return uuid.NewString()
	}
	return string(kind) + ":" + key.String()
}
