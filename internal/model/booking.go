// Package model defines the types shared by the booking store, the Google
// Calendar client, and the reconciliation engine.
package model

import "time"

// Status is the lifecycle state of a booking.
type Status string

const (
	// StatusConfirmed marks a booking that must appear on the owner's calendar.
	StatusConfirmed Status = "confirmed"
	// StatusCanceled marks a booking that must not appear on the calendar.
	StatusCanceled Status = "canceled"
)

// Booking is a locally stored, authoritative booking. Bookings are owned by a
// single user whose calendar they are synced to.
type Booking struct {
	// ID is assigned by the local store.
	ID string `json:"id"`

	// UserID is the owner. It selects the token and the calendar.
	UserID string `json:"userId" validate:"required"`

	Summary     string `json:"summary" validate:"required,max=1024"`
	Description string `json:"description,omitempty" validate:"max=8192"`

	// StartDateTime and EndDateTime are ISO-8601 timestamps in the business
	// timezone. They are passed to the calendar unchanged.
	StartDateTime string `json:"startDateTime" validate:"required,isodatetime"`
	EndDateTime   string `json:"endDateTime" validate:"required,isodatetime"`

	Status Status `json:"status" validate:"required,oneof=confirmed canceled"`

	// EventID is the remote calendar event ID. Empty means the booking has
	// never been pushed.
	EventID string `json:"eventId,omitempty"`

	// Date is a change token. Writers bump it whenever the booking changes.
	Date string `json:"date" validate:"required"`

	// LastSyncedDate is the value Date had at the last successful push.
	LastSyncedDate string `json:"lastSyncedDate,omitempty"`
}

// NeedsPush reports whether the booking changed since it was last synced.
func (b *Booking) NeedsPush() bool {
	return b.Date != b.LastSyncedDate
}

// Active reports whether the booking should exist on the remote calendar.
func (b *Booking) Active() bool {
	return b.Status != StatusCanceled
}

// EndedBefore reports whether the booking ended at or before t. Offset-less
// times are read in loc. An unparsable end time never counts as ended.
func (b *Booking) EndedBefore(t time.Time, loc *time.Location) bool {
	end, err := ParseDateTimeIn(b.EndDateTime, loc)
	if err != nil {
		return false
	}
	return !end.After(t)
}

// RemoteEvent is an event as read back from the remote calendar.
type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Start       string
	End         string
	TimeZone    string
	EventType   string

	// Managed is true when the event carries the bookingsync marker, i.e. it
	// was created by this application and may be deleted when orphaned.
	Managed bool

	// BookingID is the booking ID recorded in the marker, if any.
	BookingID string
}

// AsBooking describes an orphaned remote event in booking terms so it can be
// listed in a [DetailedSyncResult].
func (e *RemoteEvent) AsBooking() Booking {
	return Booking{
		ID:            e.BookingID,
		Summary:       e.Summary,
		Description:   e.Description,
		StartDateTime: e.Start,
		EndDateTime:   e.End,
		EventID:       e.ID,
	}
}
