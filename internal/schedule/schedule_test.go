package schedule

import (
	"strings"
	"testing"
	"time"

	"watchpot/internal/config"
)

func TestGate_Check(t *testing.T) {
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	daily := Gate{DailyAt: 12 * time.Hour, PerDay: 1}
	frequent := Gate{PerDay: 0, Interval: 10 * time.Minute}

	tests := []struct {
		name   string
		gate   Gate
		now    time.Time
		today  []time.Time
		due    bool
		reason string
	}{
		{"before daily time", daily, at(11, 59), nil, false, "before daily time 12:00"},
		{"at daily time", daily, at(12, 0), nil, true, ""},
		{"already captured today", daily, at(18, 0), []time.Time{at(12, 0)}, false, "daily limit"},
		{"unlimited with fresh photo", frequent, at(10, 5), []time.Time{at(10, 0)}, false, "interval"},
		{"unlimited with old photo", frequent, at(10, 10), []time.Time{at(10, 0)}, true, ""},
		{"unlimited empty bucket", frequent, at(0, 1), nil, true, ""},
		{"two per day", Gate{DailyAt: 6 * time.Hour, PerDay: 2}, at(8, 0), []time.Time{at(7, 0)}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.gate.Check(tt.now, tt.today)
			if d.Due != tt.due {
				t.Errorf("Due = %v, expected %v (%s)", d.Due, tt.due, d.Reason)
			}
			if !strings.Contains(d.Reason, tt.reason) {
				t.Errorf("Reason %q does not contain %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	g := FromConfig(cfg)
	if g.DailyAt != 12*time.Hour || g.PerDay != 1 || g.Interval != 0 {
		t.Errorf("Unexpected gate from defaults: %+v", g)
	}
}

func TestAtClock(t *testing.T) {
	day := time.Date(2024, 6, 1, 8, 30, 0, 0, time.Local)

	for _, in := range []string{"1415", "14:15"} {
		got, err := AtClock(day, in)
		if err != nil {
			t.Fatalf("AtClock(%q) failed: %v", in, err)
		}
		if got.Hour() != 14 || got.Minute() != 15 || got.Day() != 1 {
			t.Errorf("AtClock(%q) = %v", in, got)
		}
	}

	for _, bad := range []string{"", "25:00", "1260", "abcd", "123"} {
		if _, err := AtClock(day, bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
