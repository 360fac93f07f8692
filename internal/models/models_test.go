package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsCompleted(t *testing.T) {
	tests := []struct {
		name        string
		currentTime float64
		duration    float64
		want        bool
	}{
		{name: "start", currentTime: 0, duration: 600, want: false},
		{name: "middle", currentTime: 300, duration: 600, want: false},
		{name: "just outside margin", currentTime: 594.9, duration: 600, want: false},
		{name: "inside margin", currentTime: 595, duration: 600, want: true},
		{name: "end", currentTime: 600, duration: 600, want: true},
		{name: "unknown duration", currentTime: 10, duration: 0, want: false},
		{name: "short clip", currentTime: 0, duration: 4, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCompleted(tt.currentTime, tt.duration))
		})
	}
}

func TestRecordingLock(t *testing.T) {
	now := time.Date(2026, 4, 10, 18, 30, 0, 0, time.UTC)
	lock := RecordingLock{ChapterID: "c1", ReaderID: "mum", ExpiresAt: now.Add(LeaseDuration)}

	assert.Equal(t, "c1:mum", lock.Key())
	assert.Equal(t, LockKey("c1", "mum"), lock.Key())
	assert.False(t, lock.Expired(now))
	assert.False(t, lock.Expired(lock.ExpiresAt))
	assert.True(t, lock.Expired(lock.ExpiresAt.Add(time.Second)))
}

func TestProgressKey(t *testing.T) {
	p := ChapterProgress{ListenerID: "kid", ChapterID: "c1"}
	assert.Equal(t, "kid:c1", p.Key())
}
