package facility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/linnemanlabs/go-core/log"
)

const cacheKeyPrefix = "geocode:"

// DefaultCacheTTL is how long a resolved location stays cached.
const DefaultCacheTTL = 7 * 24 * time.Hour

// CacheOptions configures a CachedGeocoder.
type CacheOptions struct {
	// Dir holds the badger files. Empty runs the cache in memory.
	Dir string
	// TTL for resolved locations. Unknown locations are cached for a tenth of it.
	TTL time.Duration
}

// CachedGeocoder memoises another Geocoder in badger.
type CachedGeocoder struct {
	inner  Geocoder
	db     *badger.DB
	ttl    time.Duration
	logger log.Logger
}

type cacheEntry struct {
	Point
	Found bool `json:"found"`
}

// NewCached opens the cache and wraps inner.
func NewCached(inner Geocoder, opts CacheOptions, logger log.Logger) (*CachedGeocoder, error) {
	if logger == nil {
		logger = log.Nop()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger})
	if opts.Dir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open geocode cache: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedGeocoder{inner: inner, db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the badger database.
func (c *CachedGeocoder) Close() error {
	return c.db.Close()
}

// Geocode implements Geocoder. Cache failures fall through to the inner
// geocoder; inner errors are never cached.
func (c *CachedGeocoder) Geocode(ctx context.Context, query string) (Point, bool, error) {
	key := []byte(cacheKeyPrefix + normalizeQuery(query))

	if e, hit, err := c.get(key); err != nil {
		c.logger.Warn(ctx, "geocode cache read failed", "err", err)
	} else if hit {
		return e.Point, e.Found, nil
	}

	p, ok, err := c.inner.Geocode(ctx, query)
	if err != nil {
		return Point{}, false, err
	}

	ttl := c.ttl
	if !ok {
		ttl /= 10
	}
	if err := c.put(key, cacheEntry{Point: p, Found: ok}, ttl); err != nil {
		c.logger.Warn(ctx, "geocode cache write failed", "err", err)
	}
	return p, ok, nil
}

func (c *CachedGeocoder) get(key []byte) (cacheEntry, bool, error) {
	var e cacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	return e, true, nil
}

func (c *CachedGeocoder) put(key []byte, e cacheEntry, ttl time.Duration) error {
	v, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, v).WithTTL(ttl))
	})
}

// badgerLogger routes badger's warnings and errors into the app logger.
type badgerLogger struct{ L log.Logger }

func (b badgerLogger) Errorf(format string, args ...any) {
	b.L.Error(context.Background(), fmt.Errorf(format, args...), "badger")
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.L.Warn(context.Background(), "badger", "msg", fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}

var _ Geocoder = (*CachedGeocoder)(nil)
