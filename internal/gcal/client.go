// Package gcal wraps the Google Calendar v3 API for the reconciliation
// engine. It provides a [Client] with token-explicit CRUD on one calendar, a
// rate-limit-only [Backoff] helper, and conversion between API events and
// [model] types.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/fotostudio/bookingsync/internal/model"
)

const (
	// DefaultCalendarID is the authenticated user's main calendar.
	DefaultCalendarID = "primary"

	// DefaultTimeZone is the business timezone attached to every event.
	DefaultTimeZone = "Europe/Rome"

	// DefaultMaxResults is the page size requested when listing events. It is
	// the largest value the API accepts.
	DefaultMaxResults = 2500

	// DefaultRequestTimeout bounds each HTTP request to Google.
	DefaultRequestTimeout = 30 * time.Second
)

// Options configures a [Client]. Zero values fall back to the defaults above.
type Options struct {
	CalendarID     string
	TimeZone       string
	MaxResults     int64
	RequestTimeout time.Duration

	// Endpoint overrides the API base URL, e.g. for a local fake.
	Endpoint string

	// OAuth is used to refresh expired tokens. Nil disables refresh.
	OAuth *oauth2.Config

	// Transport is the base round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client performs authenticated CRUD against the events of one calendar.
// The token is passed on every call; the client holds no credentials.
type Client struct {
	opts Options
	log  *slog.Logger
}

// NewClient creates a Client. It does not contact Google.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}
	if opts.TimeZone == "" {
		opts.TimeZone = DefaultTimeZone
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	return &Client{opts: opts, log: logger}
}

// service builds a Calendar service that authenticates every request with tok
// as-is. Refreshing is the caller's job (see [Client.RefreshToken]) so that a
// rejected token surfaces as ErrUnauthenticated instead of being retried.
func (c *Client) service(ctx context.Context, tok *oauth2.Token) (*calendar.Service, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token", ErrUnauthenticated)
	}

	hc := &http.Client{
		Timeout: c.opts.RequestTimeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(tok),
			Base:   c.opts.Transport,
		},
	}
	clientOpts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(c.opts.Endpoint))
	}

	svc, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return svc, nil
}

// RefreshToken returns tok unchanged while it is valid. An expired token is
// exchanged for a fresh one using its refresh token. A token that cannot be
// refreshed yields ErrUnauthenticated.
func (c *Client) RefreshToken(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: no token stored", ErrUnauthenticated)
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired at %s and has no refresh token",
			ErrUnauthenticated, tok.Expiry.Format(time.RFC3339))
	}
	if c.opts.OAuth == nil {
		return nil, fmt.Errorf("%w: token expired and no OAuth client is configured", ErrUnauthenticated)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Timeout:   c.opts.RequestTimeout,
		Transport: c.opts.Transport,
	})
	fresh, err := c.opts.OAuth.TokenSource(ctx, tok).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, fmt.Errorf("refreshing token: %w: %w", ErrUnauthenticated, err)
		}
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	c.log.Debug("access token refreshed", "expiry", fresh.Expiry)
	return fresh, nil
}

// ListEvents returns every event starting at or after since, with recurring
// events expanded into instances. All result pages are fetched. Birthdays and
// other non-bookable subtypes are dropped.
func (c *Client) ListEvents(ctx context.Context, tok *oauth2.Token, since time.Time) ([]model.RemoteEvent, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(c.opts.CalendarID).
		TimeMin(since.Format(time.RFC3339)).
		SingleEvents(true).
		MaxResults(c.opts.MaxResults)

	var events []model.RemoteEvent
	pages := 0
	err = call.Pages(ctx, func(page *calendar.Events) error {
		pages++
		for _, ev := range page.Items {
			if skippedEventTypes[ev.EventType] {
				continue
			}
			events = append(events, toRemoteEvent(ev))
		}
		return nil
	})
	if err != nil {
		return nil, classify("listing events", err)
	}

	c.log.Debug("listed calendar events",
		"calendar_id", c.opts.CalendarID,
		"count", len(events),
		"pages", pages,
	)
	return events, nil
}

// InsertEvent creates an event for the booking, tagged as application-owned.
func (c *Client) InsertEvent(ctx context.Context, tok *oauth2.Token, b *model.Booking) (model.RemoteEvent, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return model.RemoteEvent{}, err
	}

	created, err := svc.Events.Insert(c.opts.CalendarID, eventFromBooking(b, c.opts.TimeZone)).
		Context(ctx).
		Do()
	if err != nil {
		return model.RemoteEvent{}, classify(fmt.Sprintf("inserting event for booking %q", b.ID), err)
	}
	return toRemoteEvent(created), nil
}

// UpdateEvent replaces summary, description and time window of an existing
// event. A vanished event yields ErrNotFound.
func (c *Client) UpdateEvent(ctx context.Context, tok *oauth2.Token, eventID string, b *model.Booking) (model.RemoteEvent, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return model.RemoteEvent{}, err
	}

	updated, err := svc.Events.Update(c.opts.CalendarID, eventID, eventFromBooking(b, c.opts.TimeZone)).
		Context(ctx).
		Do()
	if err != nil {
		return model.RemoteEvent{}, classify(fmt.Sprintf("updating event %q", eventID), err)
	}
	return toRemoteEvent(updated), nil
}

// DeleteEvent removes an event. It yields ErrNotFound if the event is already
// gone and ErrRateLimited when Google throttles the call.
func (c *Client) DeleteEvent(ctx context.Context, tok *oauth2.Token, eventID string) error {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(c.opts.CalendarID, eventID).Context(ctx).Do(); err != nil {
		return classify(fmt.Sprintf("deleting event %q", eventID), err)
	}
	return nil
}
