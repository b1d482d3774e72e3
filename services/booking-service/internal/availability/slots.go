// Package availability turns consultation windows into the slot labels
// stored in the AvailabilityMap.
package availability

import (
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// Labels returns the "HH:MM" labels of every step-long slot in the window
// that starts at or after now and does not run into a busy interval.
func Labels(windowStart, windowEnd time.Time, step time.Duration, busy []Interval, now time.Time) []string {
	slots := AvailableSlots(windowStart, windowEnd, step, step, busy, now)
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format(model.TimeLayout))
	}
	return out
}

// ForSchedule expands the catalog schedule over days consecutive dates
// starting at from. Window breaks are kept free. Dates without windows, or
// with every slot already past, are left out.
func ForSchedule(c *catalog.Catalog, from time.Time, days int, now time.Time) model.AvailabilityMap {
	loc := c.Location()
	out := model.AvailabilityMap{}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		var labels []string
		for _, w := range c.WindowsOn(day) {
			ws, err1 := atClock(day, w.Start)
			we, err2 := atClock(day, w.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy := make([]Interval, 0, len(w.Breaks))
			for _, b := range w.Breaks {
				bs, err1 := atClock(day, b.Start)
				be, err2 := atClock(day, b.End)
				if err1 != nil || err2 != nil {
					continue
				}
				busy = append(busy, Interval{Start: bs, End: be})
			}
			labels = append(labels, Labels(ws, we, time.Duration(w.StepMinutes)*time.Minute, busy, now)...)
		}
		out.Set(day.Format(model.DateLayout), labels)
	}
	return out
}

func atClock(day time.Time, label string) (time.Time, error) {
	clock, err := time.Parse(model.TimeLayout, label)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location()), nil
}
