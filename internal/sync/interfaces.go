// Package sync implements the reconciliation engine for bookingsync. It
// compares a user's local bookings with the events on that user's Google
// Calendar, computes what to insert, update and delete, and drives the
// calendar client and booking store until the two agree.
//
// The package contains two main components:
//
//   - [Reconciler] performs one reconciliation run for one user.
//   - [Engine] serializes runs per user, records telemetry, and schedules
//     periodic runs for all users.
package sync

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/fotostudio/bookingsync/internal/model"
)

// BookingRepository provides the local, authoritative bookings.
// Implemented by [store.Store].
type BookingRepository interface {
	// BookingsForUser returns the user's active bookings. Canceled bookings
	// are excluded.
	BookingsForUser(ctx context.Context, userID string) ([]*model.Booking, error)

	// MarkSynced persists the remote event ID and the change token that was
	// pushed.
	MarkSynced(ctx context.Context, bookingID, eventID, syncedDate string) error
}

// TokenStore provides the per-user calendar credentials.
// Implemented by [store.Store].
type TokenStore interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID string, tok *oauth2.Token) error
}

// UserLister enumerates users that have connected a calendar.
// Implemented by [store.Store].
type UserLister interface {
	Users(ctx context.Context) ([]string, error)
}

// CalendarClient performs authenticated CRUD on the remote calendar.
// Implemented by [gcal.Client].
type CalendarClient interface {
	RefreshToken(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
	ListEvents(ctx context.Context, tok *oauth2.Token, since time.Time) ([]model.RemoteEvent, error)
	InsertEvent(ctx context.Context, tok *oauth2.Token, b *model.Booking) (model.RemoteEvent, error)
	UpdateEvent(ctx context.Context, tok *oauth2.Token, eventID string, b *model.Booking) (model.RemoteEvent, error)
	DeleteEvent(ctx context.Context, tok *oauth2.Token, eventID string) error
}
