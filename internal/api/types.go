package api

import (
	"time"

	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

type QueueResponse struct {
	State    string   `json:"state"`
	Active   string   `json:"active,omitempty"`
	Finished int      `json:"finished"`
	Length   int      `json:"length"`
	Aliases  []string `json:"aliases"`
}

type SlotsResponse struct {
	Slots slots.Snapshot `json:"slots"`
}

type EventResponse struct {
	ID         string     `json:"id"`
	Kind       audit.Kind `json:"kind"`
	Slot       audit.Slot `json:"slot"`
	Message    string     `json:"message,omitempty"`
	Screenshot string     `json:"screenshot,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ControlResponse struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
