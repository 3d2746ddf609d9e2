package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"habitbot/internal/habit"
	"habitbot/internal/notifier"
	"habitbot/internal/reminder"
	logx "habitbot/pkg/logx"

	"github.com/go-chi/chi/v5"
)

type handlers struct {
	store  Store
	runner reminder.Runner
	status func() any
	log    logx.Logger
}

type habitView struct {
	habit.Habit
	DoneToday bool `json:"done_today"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// check runs the dispatcher, optionally for ?at=HH:MM.
func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runner.Run(r.Context(), r.URL.Query().Get("at"))
	if err != nil {
		var de *notifier.DeliveryError
		switch {
		case errors.Is(err, habit.ErrInvalidTimeFormat) && rep.RunID == "":
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &de):
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": rep})
		default:
			h.log.Error("reminder check failed", logx.Err(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": rep})
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *handlers) users(w http.ResponseWriter, r *http.Request) {
	us, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.log.Error("list users", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if us == nil {
		us = []habit.User{}
	}
	writeJSON(w, http.StatusOK, us)
}

func (h *handlers) userHabits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	hs, err := h.store.ListHabitsForUser(r.Context(), id)
	if err != nil {
		h.log.Error("list habits", logx.Int64("user_id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	done, err := h.store.DoneHabitIDsForToday(r.Context())
	if err != nil {
		h.log.Error("list completions", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	out := make([]habitView, 0, len(hs))
	for _, hb := range hs {
		_, ok := done[hb.ID]
		out = append(out, habitView{Habit: hb, DoneToday: ok})
	}
	writeJSON(w, http.StatusOK, out)
}
