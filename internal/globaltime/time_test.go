package globaltime

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	t.Cleanup(ResetTime)

	pinned := time.Date(2024, 3, 5, 23, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	SetMockTime(pinned)
	if !Now().Equal(pinned) {
		t.Fatalf("Now() = %v, want %v", Now(), pinned)
	}
	if UTC().Location() != time.UTC || UTC().Day() != 5 || UTC().Hour() != 18 {
		t.Fatalf("unexpected UTC(): %v", UTC())
	}

	Advance(2 * time.Hour)
	if got := Now().Sub(pinned); got != 2*time.Hour {
		t.Fatalf("Advance moved clock by %v", got)
	}

	ResetTime()
	if time.Since(Now()) > time.Minute {
		t.Fatalf("expected real clock after reset")
	}
}
