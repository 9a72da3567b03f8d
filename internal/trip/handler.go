package trip

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"voyaj-api/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	trips, err := h.repo.ListByOwner(r.Context(), identity.UserID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list trips")
		return
	}

	writeJSON(w, http.StatusOK, trips)
}

// GetTrip sits behind optional authentication: public trips are readable by
// anyone, private trips only by their owner.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trip id")
		return
	}

	t, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trip not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load trip")
		return
	}

	if !t.IsPublic {
		identity, ok := auth.IdentityFrom(r.Context())
		if !ok || identity.UserID != t.OwnerID {
			// Indistinguishable from a missing trip on purpose.
			writeError(w, http.StatusNotFound, "trip not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	t, err := h.repo.Create(r.Context(), identity.UserID, input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create trip")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trip id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	t, err := h.repo.Update(r.Context(), id, identity.UserID, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trip not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update trip")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trip id")
		return
	}

	if err := h.repo.Delete(r.Context(), id, identity.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trip not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete trip")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request) (TripInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input TripInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return TripInput{}, false
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Destination = strings.TrimSpace(input.Destination)
	input.Notes = strings.TrimSpace(input.Notes)

	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return TripInput{}, false
	}
	if !utf8.ValidString(input.Title) || len(input.Title) > 150 {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return TripInput{}, false
	}
	if input.Destination == "" {
		writeError(w, http.StatusBadRequest, "destination is required")
		return TripInput{}, false
	}
	if !utf8.ValidString(input.Destination) || len(input.Destination) > 150 {
		writeError(w, http.StatusBadRequest, "destination is invalid")
		return TripInput{}, false
	}
	if !utf8.ValidString(input.Notes) || len(input.Notes) > 2000 {
		writeError(w, http.StatusBadRequest, "notes are invalid")
		return TripInput{}, false
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required")
		return TripInput{}, false
	}
	if input.EndDate.Before(input.StartDate) {
		writeError(w, http.StatusBadRequest, "end_date must not precede start_date")
		return TripInput{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
