package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// KeySetStore shares fetched key sets between processes so that a fleet of
// replicas does not each hit the identity provider. Load reports ok=false
// when nothing is stored for url. Implementations must be safe for
// concurrent use.
type KeySetStore interface {
	Load(ctx context.Context, url string) (raw []byte, fetchedAt time.Time, ok bool, err error)
	Save(ctx context.Context, url string, raw []byte, fetchedAt time.Time) error
}

// cacheEntry is an immutable snapshot of one fetched key set. Converted
// public keys are memoized per kid for the lifetime of the snapshot.
type cacheEntry struct {
	set       *KeySet
	fetchedAt time.Time
	converted sync.Map // kid -> *rsa.PublicKey
}

// key returns the converted key for kid. found is false when the set has no
// such kid; err is a rejection when the descriptor cannot be converted.
func (e *cacheEntry) key(kid string) (pub *rsa.PublicKey, found bool, err error) {
	if v, ok := e.converted.Load(kid); ok {
		return v.(*rsa.PublicKey), true, nil
	}
	desc, ok := e.set.Find(kid)
	if !ok {
		return nil, false, nil
	}
	pub, err = PublicKey(desc)
	if err != nil {
		return nil, true, err
	}
	e.converted.Store(kid, pub)
	return pub, true, nil
}

// keySetCache holds the key set for a single URL.
//
// A snapshot is fresh for ttl after its fetch. A kid miss may force one
// extra fetch, at most once per cooldown. After a failed fetch an expired
// snapshot is served as is for one cooldown before fetching is tried again.
// Concurrent fetches are coalesced,
// and the fetch itself runs detached from any single caller's cancellation
// so that one abandoned request does not fail the others waiting on it.
type keySetCache struct {
	url          string
	fetcher      *KeySetFetcher
	store        KeySetStore
	ttl          time.Duration
	cooldown     time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	entry     *cacheEntry
	lastFetch time.Time
	failedAt  time.Time
}

func (c *keySetCache) snapshot() (*cacheEntry, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry, c.lastFetch
}

func (c *keySetCache) fresh(e *cacheEntry) bool {
	return e != nil && c.now().Sub(e.fetchedAt) < c.ttl
}

// backingOff reports whether a fetch failed within the last cooldown.
func (c *keySetCache) backingOff() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.failedAt.IsZero() && c.now().Sub(c.failedAt) < c.cooldown
}

func (c *keySetCache) markFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFetch = c.now()
	c.failedAt = c.lastFetch
}

// get returns a fresh snapshot, fetching when the cache is empty or
// expired. If the fetch fails and an older snapshot exists, the older one is
// served, and keeps being served without new attempts until the cooldown
// since the failure has passed.
func (c *keySetCache) get(ctx context.Context) (*cacheEntry, error) {
	e, _ := c.snapshot()
	if c.fresh(e) {
		return e, nil
	}
	if e != nil && c.backingOff() {
		return e, nil
	}

	next, err := c.load(ctx, false)
	if err != nil {
		if e != nil && sserr.IsServerError(err) {
			c.logger.WarnContext(ctx, "auth: key set refresh failed, serving stale keys",
				"url", c.url,
				"age", c.now().Sub(e.fetchedAt),
				"error", err,
			)
			return e, nil
		}
		return nil, err
	}
	return next, nil
}

// refresh forces a fetch unless one happened within the cooldown, in which
// case the current snapshot is returned unchanged.
func (c *keySetCache) refresh(ctx context.Context) (*cacheEntry, error) {
	e, last := c.snapshot()
	if !last.IsZero() && c.now().Sub(last) < c.cooldown {
		return e, nil
	}
	return c.load(ctx, true)
}

// resolveKey returns the public key for kid, refreshing once on a miss.
func (c *keySetCache) resolveKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	e, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	if pub, found, err := e.key(kid); found {
		return pub, err
	}

	c.logger.DebugContext(ctx, "auth: unknown key id, refreshing key set", "kid", kid, "url", c.url)
	e, err = c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if e != nil {
		if pub, found, err := e.key(kid); found {
			return pub, err
		}
	}
	return nil, reject(ReasonUnknownKeyID, nil)
}

// load runs at most one fetch of each kind at a time and waits for its
// result or for ctx to end, whichever comes first. Forced loads use their
// own flight so a refresh-on-miss never settles for a TTL load's result.
func (c *keySetCache) load(ctx context.Context, force bool) (*cacheEntry, error) {
	key := c.url
	if force {
		key += "#force"
	}
	ch := c.group.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fill(flightCtx, force)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, sserr.Wrap(ctx.Err(), sserr.CodeTimeoutDependency, "auth: timed out waiting for key set")
		}
		return nil, sserr.Wrap(ctx.Err(), sserr.CodeUnavailableDependency, "auth: cancelled waiting for key set")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cacheEntry), nil
	}
}

// fill fetches a new snapshot and installs it. It re-checks the cache first
// because another flight may have finished between the caller's check and
// this one starting.
func (c *keySetCache) fill(ctx context.Context, force bool) (*cacheEntry, error) {
	e, last := c.snapshot()
	if !force && c.fresh(e) {
		return e, nil
	}
	if !force && e != nil && c.backingOff() {
		return e, nil
	}
	if force && !last.IsZero() && c.now().Sub(last) < c.cooldown {
		return e, nil
	}

	if !force {
		if shared := c.loadShared(ctx); shared != nil {
			c.install(shared, false)
			return shared, nil
		}
	}

	raw, err := c.fetcher.fetchRaw(ctx, c.url)
	if err != nil {
		c.markFailed()
		return nil, err
	}
	set, err := ParseKeySet(raw)
	if err != nil {
		c.markFailed()
		return nil, err
	}

	next := &cacheEntry{set: set, fetchedAt: c.now()}
	c.install(next, true)
	c.logger.InfoContext(ctx, "auth: key set updated", "url", c.url, "keys", len(set.Keys))

	if c.store != nil {
		if err := c.store.Save(ctx, c.url, raw, next.fetchedAt); err != nil {
			c.logger.WarnContext(ctx, "auth: failed to share key set", "url", c.url, "error", err)
		}
	}
	return next, nil
}

// loadShared returns a fresh snapshot from the shared store, or nil.
func (c *keySetCache) loadShared(ctx context.Context) *cacheEntry {
	if c.store == nil {
		return nil
	}
	raw, fetchedAt, ok, err := c.store.Load(ctx, c.url)
	if err != nil {
		c.logger.WarnContext(ctx, "auth: failed to read shared key set", "url", c.url, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	set, err := ParseKeySet(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "auth: ignoring unreadable shared key set", "url", c.url, "error", err)
		return nil
	}
	e := &cacheEntry{set: set, fetchedAt: fetchedAt}
	if !c.fresh(e) {
		return nil
	}
	return e
}

func (c *keySetCache) install(e *cacheEntry, fetched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = e
	c.failedAt = time.Time{}
	if fetched {
		c.lastFetch = e.fetchedAt
	}
}
