// Package scheduler runs a job once per calendar day at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/reviewbot/pkg/clock"
	"github.com/entrhq/reviewbot/pkg/logging"
)

// DefaultGrace is used when Daily.Grace is not positive. A wake-up is
// never exactly on time on a real clock, so zero grace would skip every run.
const DefaultGrace = time.Hour

// TimeOfDay is a wall clock time in some location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: hour out of range", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: minute out of range", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Daily runs Job at At every day in Location.
//
// A firing that wakes up more than Grace late is logged and skipped. When
// Run starts within Grace after today's firing time, the missed firing
// runs immediately. The job never runs twice for the same day. A Daily
// must not be Run concurrently.
type Daily struct {
	At       TimeOfDay
	Location *time.Location
	Grace    time.Duration
	Clock    clock.Clock
	Job      func(ctx context.Context) error
	Logger   *logging.Logger

	lastFired string
}

func (d *Daily) defaults() {
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Grace <= 0 {
		d.Grace = DefaultGrace
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard("scheduler")
	}
}

// on returns the firing time on the calendar day of t.
func (d *Daily) on(t time.Time) time.Time {
	t = t.In(d.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), d.At.Hour, d.At.Minute, 0, 0, d.Location)
}

// Next returns the first firing strictly after now that has not run yet.
func (d *Daily) Next(now time.Time) time.Time {
	if d.Location == nil {
		d.Location = time.Local
	}
	next := d.on(now)
	for !next.After(now) || dayOf(next) == d.lastFired {
		next = d.on(time.Date(next.Year(), next.Month(), next.Day()+1, 12, 0, 0, 0, d.Location))
	}
	return next
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// Run blocks until ctx is done. Job errors are logged and do not stop
// the schedule.
func (d *Daily) Run(ctx context.Context) error {
	if d.Job == nil {
		return fmt.Errorf("scheduler: no job")
	}
	d.defaults()

	now := d.Clock.Now()
	if today := d.on(now); !now.Before(today) {
		if late := now.Sub(today); late <= d.Grace {
			d.Logger.Infof("catching up on %s firing (%v late)", today.Format(time.RFC3339), late)
			d.fire(ctx, today)
		}
	}

	for {
		now := d.Clock.Now()
		next := d.Next(now)
		d.Logger.Debugf("next firing at %s", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-d.Clock.After(next.Sub(now)):
		}

		if late := d.Clock.Now().Sub(next); late > d.Grace {
			d.Logger.Warnf("skipping %s firing: woke %v late, grace is %v", next.Format(time.RFC3339), late, d.Grace)
			d.lastFired = dayOf(next)
			continue
		}
		d.fire(ctx, next)
	}
}

func (d *Daily) fire(ctx context.Context, at time.Time) {
	day := dayOf(at)
	if day == d.lastFired {
		return
	}
	d.lastFired = day

	if err := d.Job(ctx); err != nil {
		d.Logger.Errorf("job for %s failed: %v", day, err)
		return
	}
	d.Logger.Infof("job for %s done", day)
}
