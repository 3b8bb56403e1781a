package transport

import (
	"sync/atomic"
	"time"
)

// Clock provides exchange-adjusted current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SyncClock tracks the offset between local time and the exchange's server
// time. Timestamps attached to authenticated requests and order updates come
// from here so that clock-skew rejections can be healed by resynchronizing.
type SyncClock struct {
	offsetNanos atomic.Int64
	local       func() time.Time
}

// NewSyncClock builds a clock with zero offset. A nil local source uses
// time.Now.
func NewSyncClock(local func() time.Time) *SyncClock {
	if local == nil {
		local = time.Now
	}
	return &SyncClock{local: local}
}

// Now returns local time shifted by the learned server offset.
func (c *SyncClock) Now() time.Time {
	return c.local().Add(time.Duration(c.offsetNanos.Load()))
}

// Sync records the server time observed at local receipt time.
func (c *SyncClock) Sync(serverTime time.Time) {
	c.offsetNanos.Store(int64(serverTime.Sub(c.local())))
}

// Offset reports the current local-to-server offset.
func (c *SyncClock) Offset() time.Duration {
	return time.Duration(c.offsetNanos.Load())
}
