package transport

import (
	"testing"
	"time"
)

func TestSyncClockOffset(t *testing.T) {
	local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := NewSyncClock(func() time.Time { return local })

	if got := clock.Now(); !got.Equal(local) {
		t.Errorf("Now() before sync = %v, want %v", got, local)
	}

	server := local.Add(3 * time.Second)
	clock.Sync(server)

	if got := clock.Now(); !got.Equal(server) {
		t.Errorf("Now() after sync = %v, want %v", got, server)
	}
	if clock.Offset() != 3*time.Second {
		t.Errorf("Offset() = %v, want 3s", clock.Offset())
	}
}
