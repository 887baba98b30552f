// Package monitor tracks, per page instance, which login was most recently
// auto-saved.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is how long a tracking id survives without being refreshed.
const DefaultTTL = 30 * time.Minute

// Monitor maps page-instance ids to the store id of the login auto-saved on
// that page. Entries expire so a page that is never cleared does not pin a
// stale id forever.
type Monitor struct {
	cache *ttlcache.Cache[string, string]
	once  sync.Once
}

// New creates a monitor and starts its expiration loop. Call Close to stop it.
func New(ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
	)
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, string]) {
		if reason == ttlcache.EvictionReasonExpired {
			slog.Debug("tracking id expired", "page", item.Key())
		}
	})
	go c.Start()
	return &Monitor{cache: c}
}

// Close stops the expiration loop. It is safe to call more than once.
func (m *Monitor) Close() {
	m.once.Do(m.cache.Stop)
}

// TrackingID returns the login id auto-saved for pageID.
func (m *Monitor) TrackingID(pageID string) (string, bool) {
	item := m.cache.Get(pageID)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// SetTrackingID records loginID as the login auto-saved for pageID, replacing
// any previous one.
func (m *Monitor) SetTrackingID(pageID, loginID string) {
	m.cache.Set(pageID, loginID, ttlcache.DefaultTTL)
}

// ClearTrackingID forgets the tracking id for pageID, if any.
func (m *Monitor) ClearTrackingID(pageID string) {
	m.cache.Delete(pageID)
}

// Len returns the number of pages with a live tracking id.
func (m *Monitor) Len() int {
	return m.cache.Len()
}
