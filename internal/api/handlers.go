package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/fotostudio/bookingsync/internal/gcal"
	"github.com/fotostudio/bookingsync/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// SyncResponse is returned by a successful sync.
type SyncResponse struct {
	*model.DetailedSyncResult
	Counts  model.SyncCounts `json:"counts"`
	Summary string           `json:"summary"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) syncUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	result, err := s.syncer.RunOnce(r.Context(), userID)
	switch {
	case errors.Is(err, gcal.ErrUnauthenticated):
		s.log.Warn("sync needs re-authorisation", "user_id", userID, "error", err)
		writeError(w, http.StatusUnauthorized, ErrReauthRequired, "reconnect your Google Calendar to resume syncing")
		return
	case err != nil:
		s.log.Error("sync failed", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, ErrSyncFailed, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		DetailedSyncResult: result,
		Counts:             result.Counts(),
		Summary:            result.Summary(),
	})
}

func (s *Server) listBookings(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	bookings, err := s.store.BookingsForUser(r.Context(), userID)
	if err != nil {
		s.log.Error("listing bookings", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrInternalError, "could not load bookings")
		return
	}
	if bookings == nil {
		bookings = []*model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// putBooking creates or replaces a booking. Path parameters win over body
// fields; the sync fields are ignored. An empty change token is set to the
// current time.
func (s *Server) putBooking(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, bookingID := vars["userID"], vars["bookingID"]

	var b model.Booking
	if err := decodeBody(w, r, &b); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	b.ID = bookingID
	b.UserID = userID
	b.EventID = ""
	b.LastSyncedDate = ""
	if b.Status == "" {
		b.Status = model.StatusConfirmed
	}
	if b.Date == "" {
		b.Date = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if err := b.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrValidation, err.Error())
		return
	}

	existing, err := s.store.GetBooking(r.Context(), bookingID)
	if err != nil {
		s.log.Error("loading booking", "booking_id", bookingID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrInternalError, "could not load booking")
		return
	}
	if existing != nil && existing.UserID != userID {
		writeError(w, http.StatusConflict, ErrConflict, fmt.Sprintf("booking %q belongs to another user", bookingID))
		return
	}

	if err := s.store.UpsertBooking(r.Context(), &b); err != nil {
		if errors.Is(err, model.ErrInvalidBooking) {
			writeError(w, http.StatusBadRequest, ErrValidation, err.Error())
			return
		}
		s.log.Error("saving booking", "booking_id", bookingID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrInternalError, "could not save booking")
		return
	}

	saved, err := s.store.GetBooking(r.Context(), bookingID)
	if err != nil || saved == nil {
		s.log.Error("reloading booking", "booking_id", bookingID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrInternalError, "could not load booking")
		return
	}

	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	s.log.Info("booking saved", "user_id", userID, "booking_id", bookingID, "date", b.Date)
	writeJSON(w, status, saved)
}

func (s *Server) putToken(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var tok oauth2.Token
	if err := decodeBody(w, r, &tok); err != nil {
		writeError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	if tok.AccessToken == "" {
		writeError(w, http.StatusBadRequest, ErrValidation, "access_token is required")
		return
	}

	if err := s.store.SaveToken(r.Context(), userID, &tok); err != nil {
		s.log.Error("saving token", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrInternalError, "could not save token")
		return
	}
	s.log.Info("calendar token stored", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}
