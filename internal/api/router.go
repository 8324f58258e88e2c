// Package api exposes bookings, tokens and on-demand sync over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/fotostudio/bookingsync/internal/model"
)

// Syncer runs one reconciliation for a user.
type Syncer interface {
	RunOnce(ctx context.Context, userID string) (*model.DetailedSyncResult, error)
}

// Store is the persistence the handlers need.
type Store interface {
	BookingsForUser(ctx context.Context, userID string) ([]*model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	UpsertBooking(ctx context.Context, b *model.Booking) error
	SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error
}

// Server holds the dependencies shared by all handlers.
type Server struct {
	store  Store
	syncer Syncer
	log    *slog.Logger
}

// NewServer creates a Server.
func NewServer(store Store, syncer Syncer, logger *slog.Logger) *Server {
	return &Server{store: store, syncer: syncer, log: logger}
}

// Router returns the HTTP handler for the API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.logging)
	r.Use(s.recovery)

	// Routes live on the root router so a method mismatch yields 405.
	// Nested subrouters report it as 404.
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	r.HandleFunc("/api/health", s.health).Methods(http.MethodGet)

	r.HandleFunc("/api/users/{userID}/sync", s.syncUser).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userID}/bookings", s.listBookings).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userID}/bookings/{bookingID}", s.putBooking).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{userID}/token", s.putToken).Methods(http.MethodPut)

	return r
}
