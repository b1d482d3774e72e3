// Package catalog describes what a clinic offers: services and prices, the
// doctors that can be booked and the weekly consultation schedule.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid catalog")

type Service struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	PriceCents int64  `yaml:"price_cents" json:"price_cents"`
}

// Window is a consultation window. Exactly one of Date or Weekday is set.
type Window struct {
	Date        string  `yaml:"date,omitempty"`
	Weekday     string  `yaml:"weekday,omitempty"`
	Start       string  `yaml:"start"`
	End         string  `yaml:"end"`
	StepMinutes int     `yaml:"step_minutes"`
	Breaks      []Break `yaml:"breaks,omitempty"`
}

// Break is a span inside a window when no slot may start or run, e.g. lunch.
type Break struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type Catalog struct {
	Timezone string    `yaml:"timezone"`
	Currency string    `yaml:"currency"`
	Services []Service `yaml:"services"`
	Doctors  []string  `yaml:"doctors"`
	Schedule []Window  `yaml:"schedule"`

	loc *time.Location
}

// Default is used when no CATALOG_FILE is configured.
func Default() *Catalog {
	c := &Catalog{
		Timezone: "America/Guayaquil",
		Currency: "usd",
		Services: []Service{
			{ID: "consulta", Name: "Consulta general", PriceCents: 4000},
			{ID: "control", Name: "Control", PriceCents: 2500},
			{ID: "ecografia", Name: "Ecografía", PriceCents: 6000},
		},
		Doctors: []string{"rosero", "vera"},
		Schedule: []Window{
			{Weekday: "monday", Start: "09:00", End: "13:00", StepMinutes: 60},
			{Weekday: "tuesday", Start: "09:00", End: "13:00", StepMinutes: 60},
			{Weekday: "wednesday", Start: "09:00", End: "13:00", StepMinutes: 60},
			{Weekday: "thursday", Start: "14:00", End: "18:00", StepMinutes: 60},
			{Weekday: "friday", Start: "09:00", End: "13:00", StepMinutes: 60},
		},
	}
	if err := c.normalize(); err != nil {
		panic(err)
	}
	return c
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) normalize() error {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	c.loc = loc
	c.Currency = strings.ToLower(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: no services", ErrInvalid)
	}
	seen := map[string]bool{}
	for i := range c.Services {
		s := &c.Services[i]
		s.ID = strings.ToLower(strings.TrimSpace(s.ID))
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("%w: service %d has an empty or duplicate id", ErrInvalid, i)
		}
		if s.PriceCents < 0 {
			return fmt.Errorf("%w: service %s has a negative price", ErrInvalid, s.ID)
		}
		seen[s.ID] = true
	}
	for i, d := range c.Doctors {
		d = model.NormalizeDoctor(d)
		if d == model.DoctorIndifferent {
			return fmt.Errorf("%w: doctor %d is reserved", ErrInvalid, i)
		}
		c.Doctors[i] = d
	}
	for i, w := range c.Schedule {
		if (w.Date == "") == (w.Weekday == "") {
			return fmt.Errorf("%w: schedule[%d] needs exactly one of date or weekday", ErrInvalid, i)
		}
		if w.Date != "" && !model.ValidDate(w.Date) {
			return fmt.Errorf("%w: schedule[%d] date %q", ErrInvalid, i, w.Date)
		}
		if w.Weekday != "" {
			if _, ok := parseWeekday(w.Weekday); !ok {
				return fmt.Errorf("%w: schedule[%d] weekday %q", ErrInvalid, i, w.Weekday)
			}
		}
		if !model.ValidTimeLabel(w.Start) || !model.ValidTimeLabel(w.End) || w.End <= w.Start {
			return fmt.Errorf("%w: schedule[%d] window %s-%s", ErrInvalid, i, w.Start, w.End)
		}
		if w.StepMinutes <= 0 {
			return fmt.Errorf("%w: schedule[%d] step_minutes must be positive", ErrInvalid, i)
		}
		for j, b := range w.Breaks {
			if !model.ValidTimeLabel(b.Start) || !model.ValidTimeLabel(b.End) || b.End <= b.Start ||
				b.Start < w.Start || b.End > w.End {
				return fmt.Errorf("%w: schedule[%d] break[%d] %s-%s", ErrInvalid, i, j, b.Start, b.End)
			}
		}
	}
	return nil
}

// Location is the clinic's time zone; "today" and past dates are judged in it.
func (c *Catalog) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func (c *Catalog) Service(id string) (Service, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// KnowsDoctor accepts the indifferent choice and, when no doctors are
// listed, any name.
func (c *Catalog) KnowsDoctor(doctor string) bool {
	d := model.NormalizeDoctor(doctor)
	if d == model.DoctorIndifferent || len(c.Doctors) == 0 {
		return true
	}
	for _, known := range c.Doctors {
		if known == d {
			return true
		}
	}
	return false
}

// WindowsOn returns the schedule windows that apply to date. Date-specific
// windows replace the weekday ones for that date.
func (c *Catalog) WindowsOn(date time.Time) []Window {
	day := date.Format(model.DateLayout)
	var exact, weekly []Window
	for _, w := range c.Schedule {
		if w.Date == day {
			exact = append(exact, w)
			continue
		}
		if wd, ok := parseWeekday(w.Weekday); ok && wd == date.Weekday() {
			weekly = append(weekly, w)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return weekly
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}
