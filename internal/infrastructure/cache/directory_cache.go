// Package cache holds read-through caches in front of slower backends.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger/internal/domain/masterdata"
	"stockledger/pkg/logger"
)

// DirectorySource is the authoritative master-data store.
type DirectorySource interface {
	masterdata.Directory
	LoadAll(ctx context.Context, kind masterdata.Kind) ([]masterdata.Reference, error)
}

// DirectoryCache keeps every material and warehouse in memory and reloads
// entries when the database announces a change on channel.
// Misses fall through to the source, so entities created after the last
// load are still found.
type DirectoryCache struct {
	source  DirectorySource
	pool    *pgxpool.Pool
	channel string

	mu   sync.RWMutex
	refs map[masterdata.Kind]map[string]masterdata.Reference

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

var _ masterdata.Directory = (*DirectoryCache)(nil)

// NewDirectoryCache creates a cache. pool may be nil, in which case no
// change notifications are received.
func NewDirectoryCache(source DirectorySource, pool *pgxpool.Pool, channel string) *DirectoryCache {
	return &DirectoryCache{
		source:  source,
		pool:    pool,
		channel: channel,
		refs: map[masterdata.Kind]map[string]masterdata.Reference{
			masterdata.KindMaterial:  {},
			masterdata.KindWarehouse: {},
		},
	}
}

// Start loads all entities and begins listening for changes.
func (c *DirectoryCache) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	if c.started {
		c.lifecycleMu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.lifecycleMu.Unlock()

	if err := c.Reload(c.ctx); err != nil {
		c.Stop()
		return err
	}

	if c.pool != nil {
		c.wg.Add(1)
		go c.listenLoop()
	}
	logger.Info(c.ctx, "master-data cache started")
	return nil
}

// Stop ends the listener and waits for it.
func (c *DirectoryCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Reload replaces the cached entries of every kind.
func (c *DirectoryCache) Reload(ctx context.Context) error {
	fresh := make(map[masterdata.Kind]map[string]masterdata.Reference, 2)
	for _, kind := range []masterdata.Kind{masterdata.KindMaterial, masterdata.KindWarehouse} {
		refs, err := c.source.LoadAll(ctx, kind)
		if err != nil {
			return fmt.Errorf("load %s: %w", kind, err)
		}
		byID := make(map[string]masterdata.Reference, len(refs))
		for _, r := range refs {
			byID[r.ID] = r
		}
		fresh[kind] = byID
	}

	c.mu.Lock()
	c.refs = fresh
	c.mu.Unlock()

	logger.Info(ctx, "loaded master data",
		"materials", len(fresh[masterdata.KindMaterial]),
		"warehouses", len(fresh[masterdata.KindWarehouse]),
	)
	return nil
}

// Lookup implements masterdata.Directory.
func (c *DirectoryCache) Lookup(ctx context.Context, kind masterdata.Kind, id string) (masterdata.Reference, bool, error) {
	c.mu.RLock()
	ref, ok := c.refs[kind][id]
	c.mu.RUnlock()
	if ok {
		return ref, true, nil
	}

	ref, found, err := c.source.Lookup(ctx, kind, id)
	if err != nil || !found {
		return ref, found, err
	}
	c.put(ref)
	return ref, true, nil
}

func (c *DirectoryCache) put(ref masterdata.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[ref.Kind] == nil {
		c.refs[ref.Kind] = make(map[string]masterdata.Reference)
	}
	c.refs[ref.Kind][ref.ID] = ref
}

// Invalidate refreshes one entry from the source. payload is "<kind>:<id>";
// anything else reloads everything.
func (c *DirectoryCache) Invalidate(ctx context.Context, payload string) {
	kind, id, ok := strings.Cut(strings.TrimSpace(payload), ":")
	if !ok || id == "" {
		if err := c.Reload(ctx); err != nil {
			logger.Error(ctx, "failed to reload master data", "error", err)
		}
		return
	}

	ref, found, err := c.source.Lookup(ctx, masterdata.Kind(kind), id)
	if err != nil {
		logger.Error(ctx, "failed to refresh master data", "kind", kind, "id", id, "error", err)
		return
	}
	if !found {
		c.mu.Lock()
		delete(c.refs[masterdata.Kind(kind)], id)
		c.mu.Unlock()
		return
	}
	c.put(ref)
	logger.Debug(ctx, "refreshed master data", "kind", kind, "id", id, "active", ref.Active)
}

func (c *DirectoryCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(c.ctx, "LISTEN "+c.channel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "channel", c.channel, "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Changes made while the listener was down are not replayed.
		if err := c.Reload(c.ctx); err != nil && c.ctx.Err() == nil {
			logger.Error(c.ctx, "failed to reload master data", "error", err)
		}
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *DirectoryCache) waitForNotifications(conn *pgxpool.Conn) {
	for c.ctx.Err() == nil {
		n, err := conn.Conn().WaitForNotification(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				logger.Warn(c.ctx, "master-data listener lost connection", "error", err)
			}
			return
		}
		c.Invalidate(c.ctx, n.Payload)
	}
}

func (c *DirectoryCache) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
	case <-t.C:
	}
}
