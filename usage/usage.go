// Package usage tracks command cooldowns and the daily caps free users get
// on the expensive auto/random resync commands. Counters live in beatbase
// with TTL keys so restarts don't reset anyone's limits.
package usage

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"resyncbot/beatbase"
	"resyncbot/settings"
)

// Command names of the two daily-capped operations, matching the
// pipeline command strings carried in job payloads.
const (
	CommandAutoResync   = "autoresyncmedia"
	CommandRandomResync = "resyncrandommedia"
)

var (
	ErrCooldown   = errors.New("command cooldown")
	ErrDailyLimit = errors.New("daily limit reached")
)

type recentEntry struct {
	RequesterID string
	Command     string
	At          time.Time
}

// Tracker enforces the universal cooldown and per-command daily limits.
type Tracker struct {
	cooldown       time.Duration
	autoLimit      int
	randomLimit    int
	premiumEnabled bool

	mu     sync.Mutex
	recent []recentEntry
}

func NewTracker(limits settings.LimitsConfig, premiumEnabled bool) *Tracker {
	return &Tracker{
		cooldown:       time.Duration(limits.CooldownSeconds) * time.Second,
		autoLimit:      limits.AutoLimit,
		randomLimit:    limits.RandomLimit,
		premiumEnabled: premiumEnabled,
	}
}

// Check reports whether the requester may run the command right now.
// Premium users skip the daily caps but not the cooldown.
func (t *Tracker) Check(requesterID, command string, premium bool) error {
	if t.cooldown > 0 {
		if raw, err := beatbase.Get(lastUseKey(requesterID)); err == nil {
			if ts, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				elapsed := time.Since(time.Unix(ts, 0))
				if elapsed < t.cooldown {
					remaining := (t.cooldown - elapsed).Round(time.Second)
					return fmt.Errorf("%w: %s remaining", ErrCooldown, remaining)
				}
			}
		}
	}

	// With premium disabled everyone gets unlimited usage, matching the
	// production billing freeze.
	if !t.premiumEnabled || premium {
		return nil
	}

	limit := 0
	switch command {
	case CommandAutoResync:
		limit = t.autoLimit
	case CommandRandomResync:
		limit = t.randomLimit
	default:
		return nil
	}

	count := beatbase.GetInt(dailyKey(requesterID, command))
	if limit > 0 && count >= limit {
		return fmt.Errorf("%w: %d/%d daily uses of %s, upgrade to premium for unlimited", ErrDailyLimit, count, limit, command)
	}
	return nil
}

// Log records a successful admission for cooldown and limit accounting.
func (t *Tracker) Log(requesterID, command string) {
	if t.cooldown > 0 {
		_ = beatbase.PutStringExpireSeconds(lastUseKey(requesterID),
			strconv.FormatInt(time.Now().Unix(), 10), int(t.cooldown.Seconds()))
	}

	switch command {
	case CommandAutoResync, CommandRandomResync:
		key := dailyKey(requesterID, command)
		_ = beatbase.PutInt(key, beatbase.GetInt(key)+1)
	}

	t.mu.Lock()
	t.recent = append(t.recent, recentEntry{RequesterID: requesterID, Command: command, At: time.Now()})
	t.pruneLocked(10 * time.Minute)
	t.mu.Unlock()
}

// RecentCount returns how many commands were admitted in the last window.
func (t *Tracker) RecentCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(10 * time.Minute)
	cutoff := time.Now().Add(-window)
	count := 0
	for _, e := range t.recent {
		if e.At.After(cutoff) {
			count++
		}
	}
	return count
}

func (t *Tracker) pruneLocked(keep time.Duration) {
	cutoff := time.Now().Add(-keep)
	kept := t.recent[:0]
	for _, e := range t.recent {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.recent = kept
}

func lastUseKey(requesterID string) string {
	return "usage:last:" + requesterID
}

// dailyKey rolls over at midnight UTC, so counters expire with the date.
func dailyKey(requesterID, command string) string {
	return "usage:" + command + ":" + requesterID + ":" + time.Now().UTC().Format("2006-01-02")
}
