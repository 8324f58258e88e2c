package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/fotostudio/bookingsync/internal/gcal"
	"github.com/fotostudio/bookingsync/internal/model"
)

// action describes what the reconciler does with one local booking.
type action int

const (
	actionNone     action = iota
	actionInsert          // booking was never pushed
	actionReinsert        // booking has an event ID the calendar no longer knows
	actionUpdate          // booking changed since its last push
)

func (a action) String() string {
	switch a {
	case actionInsert:
		return "insert"
	case actionReinsert:
		return "reinsert"
	case actionUpdate:
		return "update"
	default:
		return "none"
	}
}

// Reconciler converges one user's calendar with that user's bookings in a
// single pass. It is stateless between calls; callers must not run two
// passes for the same user concurrently (see [Engine]).
type Reconciler struct {
	bookings    BookingRepository
	tokens      TokenStore
	cal         CalendarClient
	deleteRetry gcal.Backoff
	loc         *time.Location
	now         func() time.Time
	log         *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given store and calendar
// client. loc is the business timezone used to read offset-less booking times.
func NewReconciler(bookings BookingRepository, tokens TokenStore, cal CalendarClient, loc *time.Location, logger *slog.Logger) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	return &Reconciler{
		bookings:    bookings,
		tokens:      tokens,
		cal:         cal,
		deleteRetry: gcal.NewDeleteBackoff(logger),
		loc:         loc,
		now:         time.Now,
		log:         logger,
	}
}

// Sync runs one reconciliation for userID and reports what changed.
//
// Only two failures are recovered: an update whose event vanished is turned
// into an insert, and a rate-limited delete is retried with backoff. Any other
// error aborts the run and no result is returned; re-running is safe.
func (r *Reconciler) Sync(ctx context.Context, userID string) (*model.DetailedSyncResult, error) {
	tok, err := r.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Events that ended before the window start are not listed, so bookings
	// that ended before it are left alone.
	since := r.now()

	// The two reads are independent; writes below stay sequential.
	var (
		bookings []*model.Booking
		remote   []model.RemoteEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bookings, err = r.bookings.BookingsForUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("loading bookings for user %q: %w", userID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		remote, err = r.cal.ListEvents(gctx, tok, since)
		if err != nil {
			return fmt.Errorf("listing calendar events for user %q: %w", userID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.log.Debug("reconciling",
		"user_id", userID,
		"bookings", len(bookings),
		"remote_events", len(remote),
	)

	// Unclaimed entries left in this index after the booking pass are
	// orphan candidates.
	unclaimed := make(map[string]model.RemoteEvent, len(remote))
	for _, ev := range remote {
		unclaimed[ev.ID] = ev
	}

	result := model.NewDetailedSyncResult()
	result.Total = len(bookings)

	// 1. Push every booking.
	past := 0
	for _, b := range bookings {
		if b.EndedBefore(since, r.loc) {
			past++
			continue
		}
		act := decide(b, unclaimed)
		if b.EventID != "" {
			delete(unclaimed, b.EventID)
		}
		if err := r.execute(ctx, tok, act, b, result); err != nil {
			return nil, fmt.Errorf("syncing booking %q (%s): %w", b.ID, act, err)
		}
	}

	// 2. Delete orphaned events we created. Iterating the listed slice
	// keeps the order deterministic.
	for _, ev := range remote {
		if _, ok := unclaimed[ev.ID]; !ok {
			continue
		}
		if !ev.Managed {
			continue
		}
		if err := r.deleteOrphan(ctx, tok, ev.ID); err != nil {
			return nil, fmt.Errorf("deleting orphaned event %q: %w", ev.ID, err)
		}
		r.log.Info("orphaned calendar event deleted",
			"user_id", userID,
			"event_id", ev.ID,
			"booking_id", ev.BookingID,
		)
		result.Deleted = append(result.Deleted, ev.AsBooking())
	}

	r.log.Info("reconcile complete",
		"user_id", userID,
		"added", len(result.Added),
		"updated", len(result.Updated),
		"deleted", len(result.Deleted),
		"past", past,
		"total", result.Total,
	)
	return result, nil
}

// token loads the user's token and refreshes it if it has expired. A
// refreshed token is persisted before use.
func (r *Reconciler) token(ctx context.Context, userID string) (*oauth2.Token, error) {
	tok, err := r.tokens.Token(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading token for user %q: %w", userID, err)
	}
	if tok == nil {
		return nil, fmt.Errorf("user %q has not connected a calendar: %w", userID, gcal.ErrUnauthenticated)
	}

	fresh, err := r.cal.RefreshToken(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("authenticating user %q: %w", userID, err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := r.tokens.SaveToken(ctx, userID, fresh); err != nil {
			return nil, fmt.Errorf("saving refreshed token for user %q: %w", userID, err)
		}
		r.log.Info("calendar token refreshed", "user_id", userID)
	}
	return fresh, nil
}

// decide picks the action for a booking given the still-unclaimed remote
// events.
func decide(b *model.Booking, unclaimed map[string]model.RemoteEvent) action {
	if b.EventID == "" {
		return actionInsert
	}
	if _, ok := unclaimed[b.EventID]; !ok {
		return actionReinsert
	}
	if !b.NeedsPush() {
		return actionNone
	}
	return actionUpdate
}

// execute performs act against the calendar, writes the sync state back to
// the booking store, and classifies the booking in result.
func (r *Reconciler) execute(ctx context.Context, tok *oauth2.Token, act action, b *model.Booking, result *model.DetailedSyncResult) error {
	switch act {
	case actionNone:
		return nil

	case actionInsert, actionReinsert:
		if act == actionReinsert {
			r.log.Info("calendar event missing, re-creating", "booking_id", b.ID, "event_id", b.EventID)
		}
		return r.insert(ctx, tok, b, result)

	case actionUpdate:
		ev, err := r.cal.UpdateEvent(ctx, tok, b.EventID, b)
		if errors.Is(err, gcal.ErrNotFound) {
			r.log.Info("calendar event vanished before update, re-creating",
				"booking_id", b.ID,
				"event_id", b.EventID,
			)
			return r.insert(ctx, tok, b, result)
		}
		if err != nil {
			return err
		}
		if err := r.bookings.MarkSynced(ctx, b.ID, ev.ID, b.Date); err != nil {
			return fmt.Errorf("recording sync state: %w", err)
		}
		b.LastSyncedDate = b.Date
		result.Updated = append(result.Updated, *b)
		r.log.Debug("calendar event updated", "booking_id", b.ID, "event_id", ev.ID)
		return nil
	}

	return fmt.Errorf("unknown action %d", act)
}

// insert creates a fresh event for b and records its ID on the booking.
func (r *Reconciler) insert(ctx context.Context, tok *oauth2.Token, b *model.Booking, result *model.DetailedSyncResult) error {
	ev, err := r.cal.InsertEvent(ctx, tok, b)
	if err != nil {
		return err
	}
	if err := r.bookings.MarkSynced(ctx, b.ID, ev.ID, b.Date); err != nil {
		return fmt.Errorf("recording event %q: %w", ev.ID, err)
	}
	b.EventID = ev.ID
	b.LastSyncedDate = b.Date
	result.Added = append(result.Added, *b)
	r.log.Debug("calendar event created", "booking_id", b.ID, "event_id", ev.ID)
	return nil
}

// deleteOrphan removes an event with rate-limit backoff. An event that is
// already gone counts as deleted.
func (r *Reconciler) deleteOrphan(ctx context.Context, tok *oauth2.Token, eventID string) error {
	err := r.deleteRetry.Do(ctx, func() error {
		return r.cal.DeleteEvent(ctx, tok, eventID)
	})
	if errors.Is(err, gcal.ErrNotFound) {
		r.log.Debug("orphaned event already gone", "event_id", eventID)
		return nil
	}
	return err
}
