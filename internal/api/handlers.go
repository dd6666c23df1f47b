package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/consul-visit-booker/internal/control"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func queueHandler(q QueueView, act Activity, ctrl Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aliases := q.Aliases()
		resp := QueueResponse{
			State:   control.Running,
			Length:  len(aliases),
			Aliases: aliases,
		}
		if ctrl != nil {
			resp.State = ctrl.Status()
		}
		if act != nil {
			resp.Active = act.Active()
			resp.Finished = act.Finished()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func slotsHandler(src SlotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := src.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "registry_unavailable", err.Error())
			return
		}
		if snap == nil {
			snap = slots.Snapshot{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{Slots: snap})
	}
}

func eventsHandler(src EventSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultEventLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = min(n, maxEventLimit)
		}

		events, err := src.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]EventResponse, 0, len(events))
		for _, ev := range events {
			resp = append(resp, EventResponse{
				ID:         ev.ID.String(),
				Kind:       ev.Kind,
				Slot:       ev.Slot,
				Message:    ev.Message,
				Screenshot: ev.Screenshot,
				CreatedAt:  ev.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func controlHandler(ctrl Commander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := chi.URLParam(r, "command")
		reply := ctrl.Execute(cmd)
		if reply == control.Unknown {
			writeError(w, http.StatusBadRequest, "unknown_command", "use pause, resume, stop or status")
			return
		}
		writeJSON(w, http.StatusOK, ControlResponse{Command: cmd, Reply: reply})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
