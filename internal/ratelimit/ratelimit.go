// Package ratelimit enforces the minimum spacing between presence entries of
// a device. The ledger is the only state: a device may enter again once its
// latest entry is older than the cooldown.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/taxibcn/reten/internal/ledger"
)

// DefaultCooldown is the minimum time between two entries of a device.
const DefaultCooldown = 5 * time.Minute

// EntrySource reports when a device last entered any zone. It returns
// ledger.ErrNotFound for a device without history.
type EntrySource interface {
	LatestEntry(ctx context.Context, deviceID string) (time.Time, error)
}

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// RemainingSeconds is Remaining rounded up to whole seconds.
func (d Decision) RemainingSeconds() int {
	if d.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(d.Remaining.Seconds()))
}

type Limiter struct {
	source   EntrySource
	cooldown time.Duration
}

func New(source EntrySource, cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{source: source, cooldown: cooldown}
}

func (l *Limiter) Cooldown() time.Duration { return l.cooldown }

// Check decides whether deviceID may register an entry at now.
func (l *Limiter) Check(ctx context.Context, deviceID string, now time.Time) (Decision, error) {
	last, err := l.source.LatestEntry(ctx, deviceID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("check cooldown: %w", err)
	}

	elapsed := now.Sub(last)
	if elapsed < l.cooldown {
		return Decision{Remaining: l.cooldown - elapsed}, nil
	}
	return Decision{Allowed: true}, nil
}
