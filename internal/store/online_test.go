package store

import (
	"testing"
	"time"
)

func TestIsOnline(t *testing.T) {
	now := time.Now()
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name       string
		lastInform *time.Time
		window     time.Duration
		want       bool
	}{
		{"never informed", nil, 0, false},
		{"five minutes ago", ago(5 * time.Minute), 0, true},
		{"twenty minutes ago", ago(20 * time.Minute), 0, false},
		{"exactly at the window", ago(15 * time.Minute), 0, false},
		{"just inside the window", ago(15*time.Minute - time.Second), 0, true},
		{"custom window", ago(20 * time.Minute), 30 * time.Minute, true},
		{"zero window falls back to default", ago(10 * time.Minute), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOnline(tt.lastInform, now, tt.window); got != tt.want {
				t.Errorf("IsOnline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeviceOnline(t *testing.T) {
	now := time.Now()
	seen := now.Add(-time.Minute)

	d := &Device{LastInform: &seen}
	if !d.Online(now, DefaultOnlineWindow) {
		t.Error("device informed a minute ago should be online")
	}

	d = &Device{}
	if d.Online(now, DefaultOnlineWindow) {
		t.Error("device that never informed should be offline")
	}
}
