// Package catalog keeps the lender product catalog available offline. A sync
// prefers the live catalog, falls back to the last stored snapshot and then to
// the bundled defaults.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/VenkatGGG/lendflow/internal/dedupkey"
	"github.com/VenkatGGG/lendflow/internal/kvstore"
)

const (
	keyItems      = "catalog:items"
	keyCapturedAt = "catalog:captured_at"
	keyHash       = "catalog:hash"
	keyRetryCount = "catalog:retry_count"
	keyLegacy     = "lender_products_cache"

	DefaultRetryCeiling = 10
)

var identifierFields = []string{"id", "productId", "name"}

// Item is one catalog entry as served by the backend.
type Item map[string]any

// ID returns the first non-empty identifier among id, productId and name.
func (i Item) ID() string {
	for _, field := range identifierFields {
		if value := strings.TrimSpace(dedupkey.Field(i, field)); value != "" {
			return value
		}
	}
	return ""
}

type Snapshot struct {
	Items       []Item
	ContentHash string
	CapturedAt  time.Time
	RetryCount  int
}

type SyncResult struct {
	Success    bool   `json:"success"`
	Data       []Item `json:"data"`
	FromCache  bool   `json:"fromCache"`
	NeedsRetry bool   `json:"needsRetry"`
	Error      string `json:"error,omitempty"`
}

type Status struct {
	HasCache   bool      `json:"hasCache"`
	ItemCount  int       `json:"itemCount"`
	CapturedAt time.Time `json:"capturedAt"`
	RetryCount int       `json:"retryCount"`
	IsHealthy  bool      `json:"isHealthy"`
}

// Fetcher loads the live catalog. ErrUnauthorized means the caller should
// stay on whatever it already has.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Item, error)
}

type Config struct {
	RetryCeiling int
	// Defaults replaces the embedded fallback catalog when set.
	Defaults []Item
}

type Engine struct {
	fetcher Fetcher
	store   kvstore.Store
	cfg     Config
	logger  *log.Logger
	now     func() time.Time
}

func NewEngine(fetcher Fetcher, store kvstore.Store, cfg Config, logger *log.Logger) *Engine {
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultRetryCeiling
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		fetcher: fetcher,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sync runs one live → cache → defaults cycle. It never fails; degradation
// shows up in the result flags.
func (e *Engine) Sync(ctx context.Context) SyncResult {
	return e.sync(ctx, false)
}

// ForceSync is Sync except that a successful fetch is always written, which
// refreshes the capture time and resets the retry count.
func (e *Engine) ForceSync(ctx context.Context) SyncResult {
	return e.sync(ctx, true)
}

func (e *Engine) Status(ctx context.Context) Status {
	snapshot, ok := e.load(ctx, false)
	if !ok {
		return Status{IsHealthy: true}
	}
	return Status{
		HasCache:   true,
		ItemCount:  len(snapshot.Items),
		CapturedAt: snapshot.CapturedAt,
		RetryCount: snapshot.RetryCount,
		IsHealthy:  snapshot.RetryCount < e.cfg.RetryCeiling,
	}
}

func (e *Engine) sync(ctx context.Context, force bool) SyncResult {
	existing, hasSnapshot := e.load(ctx, true)

	items, err := e.fetcher.Fetch(ctx)
	if err == nil {
		hash := ContentHash(items)
		if hasSnapshot && !force && hash == existing.ContentHash {
			return SyncResult{Success: true, Data: existing.Items, FromCache: true}
		}
		e.save(ctx, Snapshot{Items: items, ContentHash: hash, CapturedAt: e.now()})
		e.logger.Printf("catalog synced: items=%d hash=%s", len(items), shortHash(hash))
		return SyncResult{Success: true, Data: items}
	}

	if ctx.Err() != nil {
		if hasSnapshot {
			return SyncResult{Success: true, Data: existing.Items, FromCache: true, Error: err.Error()}
		}
		// Writes on a cancelled context would fail; the next sync persists.
		return SyncResult{Data: e.defaultItems(), NeedsRetry: true, Error: err.Error()}
	}

	if errors.Is(err, ErrUnauthorized) {
		if hasSnapshot {
			return SyncResult{Success: true, Data: existing.Items, FromCache: true}
		}
		return SyncResult{Data: e.loadDefaults(ctx), NeedsRetry: true}
	}

	if hasSnapshot {
		retryCount := existing.RetryCount + 1
		e.setRetryCount(ctx, retryCount)
		e.logger.Printf("catalog sync failed: retry_count=%d err=%v", retryCount, err)
		return SyncResult{
			Success:    true,
			Data:       existing.Items,
			FromCache:  true,
			NeedsRetry: retryCount < e.cfg.RetryCeiling,
			Error:      err.Error(),
		}
	}

	e.logger.Printf("catalog sync failed without cache, using defaults: err=%v", err)
	return SyncResult{
		Data:       e.loadDefaults(ctx),
		NeedsRetry: true,
		Error:      err.Error(),
	}
}

func (e *Engine) loadDefaults(ctx context.Context) []Item {
	items := e.defaultItems()
	if items == nil {
		return nil
	}
	e.save(ctx, Snapshot{Items: items, ContentHash: ContentHash(items), CapturedAt: e.now()})
	return items
}

func (e *Engine) defaultItems() []Item {
	if len(e.cfg.Defaults) > 0 {
		return e.cfg.Defaults
	}
	items, err := DefaultItems()
	if err != nil {
		e.logger.Printf("catalog defaults unreadable: err=%v", err)
		return nil
	}
	return items
}

// load reads the stored snapshot. With migrate set, a snapshot found only
// under the legacy key is rewritten under the current keys.
func (e *Engine) load(ctx context.Context, migrate bool) (Snapshot, bool) {
	var items []Item
	ok, err := kvstore.GetJSON(ctx, e.store, keyItems, &items)
	if err != nil {
		e.logger.Printf("catalog snapshot unreadable: err=%v", err)
		return Snapshot{}, false
	}
	if !ok {
		return e.loadLegacy(ctx, migrate)
	}

	snapshot := Snapshot{Items: items}
	if raw, found, err := e.store.Get(ctx, keyHash); err == nil && found {
		snapshot.ContentHash = string(raw)
	}
	if snapshot.ContentHash == "" {
		snapshot.ContentHash = ContentHash(items)
	}
	if raw, found, err := e.store.Get(ctx, keyCapturedAt); err == nil && found {
		if at, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			snapshot.CapturedAt = at
		}
	}
	if raw, found, err := e.store.Get(ctx, keyRetryCount); err == nil && found {
		if n, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && n > 0 {
			snapshot.RetryCount = n
		}
	}
	return snapshot, true
}

type legacyCache struct {
	Products  []Item `json:"products"`
	Data      []Item `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Engine) loadLegacy(ctx context.Context, migrate bool) (Snapshot, bool) {
	raw, ok, err := e.store.Get(ctx, keyLegacy)
	if err != nil || !ok {
		return Snapshot{}, false
	}
	items, capturedAt, err := decodeLegacy(raw)
	if err != nil || len(items) == 0 {
		e.logger.Printf("legacy catalog cache ignored: err=%v", err)
		return Snapshot{}, false
	}
	if capturedAt.IsZero() {
		capturedAt = e.now()
	}
	snapshot := Snapshot{Items: items, ContentHash: ContentHash(items), CapturedAt: capturedAt}
	if migrate {
		e.save(ctx, snapshot)
		if err := e.store.Remove(ctx, keyLegacy); err != nil {
			e.logger.Printf("legacy catalog cache not removed: err=%v", err)
		}
		e.logger.Printf("catalog cache migrated from legacy key: items=%d", len(items))
	}
	return snapshot, true
}

func decodeLegacy(raw []byte) ([]Item, time.Time, error) {
	var legacy legacyCache
	if err := decodeJSON(raw, &legacy); err != nil {
		items, parseErr := parseItems(raw)
		return items, time.Time{}, parseErr
	}
	items := legacy.Products
	if len(items) == 0 {
		items = legacy.Data
	}
	var capturedAt time.Time
	if legacy.Timestamp > 0 {
		capturedAt = time.UnixMilli(legacy.Timestamp).UTC()
	}
	return items, capturedAt, nil
}

func (e *Engine) save(ctx context.Context, snapshot Snapshot) {
	if err := kvstore.SetJSON(ctx, e.store, keyItems, snapshot.Items); err != nil {
		e.logger.Printf("catalog snapshot not saved: err=%v", err)
		return
	}
	writes := []struct {
		key   string
		value string
	}{
		{keyHash, snapshot.ContentHash},
		{keyCapturedAt, snapshot.CapturedAt.UTC().Format(time.RFC3339Nano)},
		{keyRetryCount, strconv.Itoa(snapshot.RetryCount)},
	}
	for _, w := range writes {
		if err := e.store.Set(ctx, w.key, []byte(w.value)); err != nil {
			e.logger.Printf("catalog snapshot field not saved: key=%s err=%v", w.key, err)
		}
	}
}

func (e *Engine) setRetryCount(ctx context.Context, n int) {
	if err := e.store.Set(ctx, keyRetryCount, []byte(strconv.Itoa(n))); err != nil {
		e.logger.Printf("catalog retry count not saved: err=%v", err)
	}
}

// ContentHash fingerprints the sorted identifier set. Field edits on items
// whose identifiers are unchanged do not change the hash.
func ContentHash(items []Item) string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := item.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
