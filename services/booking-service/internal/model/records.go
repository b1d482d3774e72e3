package model

import "time"

type Callback struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	PreferredTime string    `json:"preferred_time,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type Review struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}

// ActorClass is who performed an operation, as far as the audit log cares.
type ActorClass string

const (
	ActorPublic ActorClass = "public"
	ActorAdmin  ActorClass = "admin"
)

// Actor is resolved once per request at the HTTP edge and passed down
// explicitly.
type Actor struct {
	Class     ActorClass
	Subject   string
	IP        string
	Path      string
	RequestID string
}

func (a Actor) IsAdmin() bool { return a.Class == ActorAdmin }
