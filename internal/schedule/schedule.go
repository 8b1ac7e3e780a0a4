package schedule

import (
	"fmt"
	"strconv"
	"time"

	"watchpot/internal/config"
)

// Gate decides whether a capture is due. The photos already in today's
// bucket are the only state it reads.
type Gate struct {
	// DailyAt is the earliest time of day a capture may run
	DailyAt time.Duration
	// PerDay caps captures per bucket; zero means unlimited
	PerDay int
	// Interval is the minimum age of the newest photo; zero disables it
	Interval time.Duration
}

// Decision is the outcome of a gate check
type Decision struct {
	Due    bool
	Reason string
}

// FromConfig builds the gate for cfg
func FromConfig(cfg config.Config) Gate {
	return Gate{
		DailyAt:  cfg.DailyAt,
		PerDay:   cfg.PhotosPerDay,
		Interval: cfg.CaptureInterval,
	}
}

// Check evaluates the gate at now given the capture times of the photos in
// today's bucket, oldest first
func (g Gate) Check(now time.Time, today []time.Time) Decision {
	if sinceMidnight(now) < g.DailyAt {
		return Decision{Reason: fmt.Sprintf("before daily time %s", clock(g.DailyAt))}
	}
	if g.PerDay > 0 && len(today) >= g.PerDay {
		return Decision{Reason: fmt.Sprintf("daily limit reached (%d/%d)", len(today), g.PerDay)}
	}
	if g.Interval > 0 && len(today) > 0 {
		newest := today[len(today)-1]
		if age := now.Sub(newest); age < g.Interval {
			return Decision{Reason: fmt.Sprintf("last capture %s ago, interval is %s", age.Truncate(time.Second), g.Interval)}
		}
	}
	return Decision{Due: true}
}

// AtClock returns day's date at the HHMM (or HH:MM) time of day s
func AtClock(day time.Time, s string) (time.Time, error) {
	if len(s) == 5 && s[2] == ':' {
		s = s[:2] + s[3:]
	}
	if len(s) != 4 {
		return time.Time{}, fmt.Errorf("invalid time %q, want HHMM", s)
	}
	hh, err1 := strconv.Atoi(s[:2])
	mm, err2 := strconv.Atoi(s[2:])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return time.Time{}, fmt.Errorf("invalid time %q, want HHMM", s)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hh, mm, 0, 0, day.Location()), nil
}

func sinceMidnight(t time.Time) time.Duration {
	y, m, d := t.Date()
	return t.Sub(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
