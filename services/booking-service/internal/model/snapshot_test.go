package model

import (
	"strings"
	"testing"
)

const testToken = "0123456789abcdef0123456789abcdef"

func TestDoctorsOverlap(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"rosero", "rosero", true},
		{"rosero", "vera", false},
		{"", "vera", true},
		{"Indiferente", "rosero", true},
		{"rosero", "indifferent", true},
		{" ROSERO ", "rosero", true},
	}
	for _, c := range cases {
		if got := DoctorsOverlap(c.a, c.b); got != c.want {
			t.Fatalf("DoctorsOverlap(%q, %q) = %v, expected %v", c.a, c.b, got, c.want)
		}
	}
}

func TestNormalizeOrdersAndIndexes(t *testing.T) {
	s := Snapshot{
		Appointments: []Appointment{
			{ID: 7, Date: "2025-06-10", Time: "11:00"},
			{ID: 3, Date: "2025-06-10", Time: "10:00"},
			{ID: 5, Date: "2025-06-11", Time: "10:00"},
		},
		DateIndex: map[string][]int64{"1999-01-01": {99}},
	}
	s.Normalize()

	if s.Appointments[0].ID != 3 || s.Appointments[2].ID != 7 {
		t.Fatalf("expected appointments ordered by id, got %+v", s.Appointments)
	}
	if _, ok := s.DateIndex["1999-01-01"]; ok {
		t.Fatal("expected stale index entry to be dropped")
	}
	if got := s.OnDate("2025-06-10"); len(got) != 2 {
		t.Fatalf("expected 2 appointments on 2025-06-10, got %d", len(got))
	}
	if s.NextID != 8 {
		t.Fatalf("expected next id 8, got %d", s.NextID)
	}
	if s.Callbacks == nil || s.Reviews == nil || s.Availability == nil {
		t.Fatal("expected nil collections to be filled")
	}
}

func TestAllocateIDIsMonotonic(t *testing.T) {
	s := NewSnapshot()
	first := s.AllocateID()
	s.Appointments = append(s.Appointments, Appointment{ID: first})
	second := s.AllocateID()
	if first != 1 || second != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first, second)
	}

	// A hand-edited document with a stale counter must not reuse ids.
	s.NextID = 1
	if got := s.AllocateID(); got != 2 {
		t.Fatalf("expected id past the last appointment, got %d", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSnapshot()
	s.Appointments = append(s.Appointments, Appointment{ID: 1, Attachments: []string{"a.pdf"}})
	s.Availability.Set("2025-06-10", []string{"10:00"})
	s.Reindex()

	c := s.Clone()
	c.Appointments[0].Attachments[0] = "changed"
	c.Availability["2025-06-10"][0] = "12:00"
	c.Appointments[0].Status = StatusCancelled

	if s.Appointments[0].Attachments[0] != "a.pdf" || s.Availability["2025-06-10"][0] != "10:00" {
		t.Fatal("clone shares memory with the original")
	}
	if s.Appointments[0].Status == StatusCancelled {
		t.Fatal("clone mutation leaked into original")
	}
}

func TestAvailabilitySetSortsAndDedupes(t *testing.T) {
	m := AvailabilityMap{}
	m.Set("2025-06-10", []string{"11:00", "10:00", "11:00"})
	if got := m["2025-06-10"]; len(got) != 2 || got[0] != "10:00" {
		t.Fatalf("unexpected labels: %v", got)
	}
	if !m.Offers("2025-06-10", "11:00") || m.Offers("2025-06-10", "12:00") {
		t.Fatal("Offers mismatch")
	}
	m.Set("2025-06-10", nil)
	if _, ok := m["2025-06-10"]; ok {
		t.Fatal("expected empty set to remove the date")
	}
}

func TestValidateReportsDoubleBooking(t *testing.T) {
	s := NewSnapshot()
	s.Appointments = []Appointment{
		{ID: 1, Date: "2025-06-10", Time: "10:00", Doctor: "rosero", Status: StatusConfirmed, RescheduleToken: testToken},
		{ID: 2, Date: "2025-06-10", Time: "10:00", Doctor: "indifferent", Status: StatusPendingCash, RescheduleToken: testToken},
		{ID: 3, Date: "2025-06-10", Time: "10:00", Doctor: "rosero", Status: StatusCancelled},
	}
	issues := s.Validate()
	if len(issues) != 1 || !strings.Contains(issues[0], "double-book") {
		t.Fatalf("expected a single double-book issue, got %v", issues)
	}
}

func TestValidateReportsMalformedRows(t *testing.T) {
	s := NewSnapshot()
	s.Appointments = []Appointment{
		{ID: 0, Date: "10/06/2025", Time: "10", Status: "booked", RescheduleToken: "short"},
	}
	s.Availability["june"] = []string{"9am"}
	if issues := s.Validate(); len(issues) < 5 {
		t.Fatalf("expected several issues, got %v", issues)
	}
}
