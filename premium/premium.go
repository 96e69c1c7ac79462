// Package premium decides which tier a requester is admitted under. The
// answer comes from the subscription store, cached for a few minutes, and
// is consulted exactly once per submission - the job keeps its tier for
// life even if the subscription lapses mid-processing.
package premium

import (
	"context"
	"sync"
	"time"

	"resyncbot/logger"
	"resyncbot/queue"
	"resyncbot/settings"
)

// Subscription is one requester's billing state. A nil ExpiresAt on an
// active subscription means lifetime premium.
type Subscription struct {
	Premium   bool
	ExpiresAt *time.Time
}

// Store is the persistence behind the classifier.
type Store interface {
	Subscription(ctx context.Context, requesterID string) (Subscription, error)
	ExpirePremium(ctx context.Context, requesterID string) error
	SetPremium(ctx context.Context, requesterID string, premium bool, expiresAt *time.Time) error
	NeedsRefresh(ctx context.Context, requesterID string) (bool, error)
}

type cachedStatus struct {
	premium bool
	expires time.Time
}

// Manager classifies requesters and caches the answers.
type Manager struct {
	store   Store
	enabled bool
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedStatus
}

func NewManager(store Store, config settings.PremiumConfig) *Manager {
	return &Manager{
		store:   store,
		enabled: config.Enabled,
		ttl:     time.Duration(config.CacheMinutes) * time.Minute,
		cache:   make(map[string]cachedStatus),
	}
}

// Disabled returns a classifier that puts everyone on the free tier, used
// when premium is switched off or no database is configured.
func Disabled() *Manager {
	return &Manager{cache: make(map[string]cachedStatus)}
}

// Classify maps a requester to their tier.
func (m *Manager) Classify(ctx context.Context, requesterID string) queue.Tier {
	if m.IsPremiumUser(ctx, requesterID) {
		return queue.TierPremium
	}
	return queue.TierFree
}

// IsPremiumUser checks for an active subscription. Any store error
// degrades to free rather than blocking admission.
func (m *Manager) IsPremiumUser(ctx context.Context, requesterID string) bool {
	if !m.enabled || m.store == nil {
		return false
	}

	m.checkRefreshFlag(ctx, requesterID)

	m.mu.Lock()
	if entry, ok := m.cache[requesterID]; ok && entry.expires.After(time.Now()) {
		m.mu.Unlock()
		return entry.premium
	}
	m.mu.Unlock()

	sub, err := m.store.Subscription(ctx, requesterID)
	if err != nil {
		logger.Warn("Premium lookup failed, treating as free", "requester", requesterID, "error", err)
		return false
	}

	isPremium := sub.Premium
	if isPremium && sub.ExpiresAt != nil && !sub.ExpiresAt.After(time.Now()) {
		// Subscription ran out, flip it off in the database too.
		isPremium = false
		if err := m.store.ExpirePremium(ctx, requesterID); err != nil {
			logger.Warn("Failed to expire subscription", "requester", requesterID, "error", err)
		}
	}

	m.mu.Lock()
	m.cache[requesterID] = cachedStatus{premium: isPremium, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	return isPremium
}

// SetPremiumStatus updates the subscription and drops the cached answer.
func (m *Manager) SetPremiumStatus(ctx context.Context, requesterID string, premium bool, expiresAt *time.Time) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SetPremium(ctx, requesterID, premium, expiresAt); err != nil {
		return err
	}
	m.ForceRefresh(requesterID)
	return nil
}

// ForceRefresh drops a requester's cached status so the next check hits
// the store.
func (m *Manager) ForceRefresh(requesterID string) {
	m.mu.Lock()
	delete(m.cache, requesterID)
	m.mu.Unlock()
}

// checkRefreshFlag clears the cache when the billing webhook has flagged
// this requester since the last check.
func (m *Manager) checkRefreshFlag(ctx context.Context, requesterID string) {
	needs, err := m.store.NeedsRefresh(ctx, requesterID)
	if err != nil {
		logger.Debug("Refresh flag check failed", "requester", requesterID, "error", err)
		return
	}
	if needs {
		m.ForceRefresh(requesterID)
	}
}
