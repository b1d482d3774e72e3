package model

import (
	"fmt"
	"sort"
)

// AvailabilityMap maps a calendar date to the slot labels offered that day.
type AvailabilityMap map[string][]string

func (m AvailabilityMap) Offers(date, label string) bool {
	for _, l := range m[date] {
		if l == label {
			return true
		}
	}
	return false
}

// Set replaces the labels for date, keeping them sorted and unique. An empty
// list removes the date.
func (m AvailabilityMap) Set(date string, labels []string) {
	if len(labels) == 0 {
		delete(m, date)
		return
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	m[date] = out
}

// Snapshot is the whole per-tenant document, the unit of locking.
type Snapshot struct {
	Appointments []Appointment      `json:"appointments"`
	Availability AvailabilityMap    `json:"availability"`
	Callbacks    []Callback         `json:"callbacks"`
	Reviews      []Review           `json:"reviews"`
	NextID       int64              `json:"next_id"`
	DateIndex    map[string][]int64 `json:"date_index"`
}

type Counts struct {
	Appointments int `json:"appointments"`
	Availability int `json:"availability"`
	Callbacks    int `json:"callbacks"`
	Reviews      int `json:"reviews"`
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Appointments: []Appointment{},
		Availability: AvailabilityMap{},
		Callbacks:    []Callback{},
		Reviews:      []Review{},
		NextID:       1,
		DateIndex:    map[string][]int64{},
	}
}

// Normalize fills missing collections, orders appointments by id and rebuilds
// the date index. Decoded documents are always normalized before use, so a
// stale or hand-edited index is never trusted.
func (s *Snapshot) Normalize() {
	if s.Appointments == nil {
		s.Appointments = []Appointment{}
	}
	if s.Availability == nil {
		s.Availability = AvailabilityMap{}
	}
	if s.Callbacks == nil {
		s.Callbacks = []Callback{}
	}
	if s.Reviews == nil {
		s.Reviews = []Review{}
	}
	sort.SliceStable(s.Appointments, func(i, j int) bool {
		return s.Appointments[i].ID < s.Appointments[j].ID
	})
	if n := len(s.Appointments); n > 0 && s.NextID <= s.Appointments[n-1].ID {
		s.NextID = s.Appointments[n-1].ID + 1
	}
	if s.NextID < 1 {
		s.NextID = 1
	}
	s.Reindex()
}

// Reindex rebuilds date -> ordered appointment ids.
func (s *Snapshot) Reindex() {
	idx := make(map[string][]int64)
	for _, a := range s.Appointments {
		idx[a.Date] = append(idx[a.Date], a.ID)
	}
	s.DateIndex = idx
}

// Clone returns a deep copy so engine operations never mutate their input.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Appointments: make([]Appointment, len(s.Appointments)),
		Availability: make(AvailabilityMap, len(s.Availability)),
		Callbacks:    append([]Callback(nil), s.Callbacks...),
		Reviews:      append([]Review(nil), s.Reviews...),
		NextID:       s.NextID,
		DateIndex:    make(map[string][]int64, len(s.DateIndex)),
	}
	for i, a := range s.Appointments {
		if a.Attachments != nil {
			a.Attachments = append([]string(nil), a.Attachments...)
		}
		if a.CancelledAt != nil {
			t := *a.CancelledAt
			a.CancelledAt = &t
		}
		out.Appointments[i] = a
	}
	for d, labels := range s.Availability {
		out.Availability[d] = append([]string(nil), labels...)
	}
	for d, ids := range s.DateIndex {
		out.DateIndex[d] = append([]int64(nil), ids...)
	}
	if out.Callbacks == nil {
		out.Callbacks = []Callback{}
	}
	if out.Reviews == nil {
		out.Reviews = []Review{}
	}
	return out
}

// Find returns the position of appointment id. Appointments are kept ordered
// by id, so this is a binary search.
func (s Snapshot) Find(id int64) (int, bool) {
	i := sort.Search(len(s.Appointments), func(i int) bool {
		return s.Appointments[i].ID >= id
	})
	if i < len(s.Appointments) && s.Appointments[i].ID == id {
		return i, true
	}
	return -1, false
}

// OnDate returns the appointments booked on date, via the date index.
func (s Snapshot) OnDate(date string) []Appointment {
	ids := s.DateIndex[date]
	out := make([]Appointment, 0, len(ids))
	for _, id := range ids {
		if i, ok := s.Find(id); ok {
			out = append(out, s.Appointments[i])
		}
	}
	return out
}

// AllocateID hands out the next appointment id. Ids never repeat within a store.
func (s *Snapshot) AllocateID() int64 {
	id := s.NextID
	if n := len(s.Appointments); n > 0 && id <= s.Appointments[n-1].ID {
		id = s.Appointments[n-1].ID + 1
	}
	if id < 1 {
		id = 1
	}
	s.NextID = id + 1
	return id
}

func (s Snapshot) Counts() Counts {
	return Counts{
		Appointments: len(s.Appointments),
		Availability: len(s.Availability),
		Callbacks:    len(s.Callbacks),
		Reviews:      len(s.Reviews),
	}
}

// MinTokenLength is the shortest reschedule token accepted on an active appointment.
const MinTokenLength = 16

// Validate reports structural problems. An empty result means the document
// is safe to serve.
func (s Snapshot) Validate() []string {
	var issues []string
	seen := make(map[int64]struct{}, len(s.Appointments))
	type slotKey struct{ date, time string }
	active := make(map[slotKey][]Appointment)
	for i, a := range s.Appointments {
		if a.ID <= 0 {
			issues = append(issues, fmt.Sprintf("appointments[%d]: non-positive id %d", i, a.ID))
		}
		if _, dup := seen[a.ID]; dup {
			issues = append(issues, fmt.Sprintf("appointments[%d]: duplicate id %d", i, a.ID))
		}
		seen[a.ID] = struct{}{}
		if !a.Status.Valid() {
			issues = append(issues, fmt.Sprintf("appointment %d: unknown status %q", a.ID, a.Status))
		}
		if !ValidDate(a.Date) {
			issues = append(issues, fmt.Sprintf("appointment %d: malformed date %q", a.ID, a.Date))
		}
		if !ValidTimeLabel(a.Time) {
			issues = append(issues, fmt.Sprintf("appointment %d: malformed time %q", a.ID, a.Time))
		}
		if a.Status.Active() && len(a.RescheduleToken) < MinTokenLength {
			issues = append(issues, fmt.Sprintf("appointment %d: reschedule token too short", a.ID))
		}
		if a.Status.Active() {
			k := slotKey{a.Date, a.Time}
			for _, other := range active[k] {
				if DoctorsOverlap(a.Doctor, other.Doctor) {
					issues = append(issues, fmt.Sprintf("appointments %d and %d double-book %s %s", other.ID, a.ID, a.Date, a.Time))
				}
			}
			active[k] = append(active[k], a)
		}
	}
	for date, labels := range s.Availability {
		if !ValidDate(date) {
			issues = append(issues, fmt.Sprintf("availability: malformed date %q", date))
		}
		for _, l := range labels {
			if !ValidTimeLabel(l) {
				issues = append(issues, fmt.Sprintf("availability %s: malformed label %q", date, l))
			}
		}
	}
	for i, r := range s.Reviews {
		if r.Rating < 1 || r.Rating > 5 {
			issues = append(issues, fmt.Sprintf("reviews[%d]: rating %d out of range", i, r.Rating))
		}
	}
	return issues
}
