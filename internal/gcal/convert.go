package gcal

import (
	"google.golang.org/api/calendar/v3"

	"github.com/fotostudio/bookingsync/internal/model"
)

// Private extended properties written on every event this application
// creates. Only events carrying markerKey=markerValue are ever deleted.
const (
	markerKey    = "bookingsync"
	markerValue  = "managed"
	bookingIDKey = "bookingId"
)

// skippedEventTypes are Google event subtypes that never represent a booking.
var skippedEventTypes = map[string]bool{
	"birthday":        true,
	"workingLocation": true,
	"outOfOffice":     true,
	"focusTime":       true,
}

// eventFromBooking builds the full event body used for insert and update.
// Start and end are passed through unchanged and annotated with tz.
func eventFromBooking(b *model.Booking, tz string) *calendar.Event {
	return &calendar.Event{
		Summary:     b.Summary,
		Description: b.Description,
		Start: &calendar.EventDateTime{
			DateTime: b.StartDateTime,
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: b.EndDateTime,
			TimeZone: tz,
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				markerKey:    markerValue,
				bookingIDKey: b.ID,
			},
		},
	}
}

// toRemoteEvent converts an API event. All-day events fall back to their
// date fields.
func toRemoteEvent(ev *calendar.Event) model.RemoteEvent {
	re := model.RemoteEvent{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		EventType:   ev.EventType,
	}
	if ev.Start != nil {
		re.Start = firstNonEmpty(ev.Start.DateTime, ev.Start.Date)
		re.TimeZone = ev.Start.TimeZone
	}
	if ev.End != nil {
		re.End = firstNonEmpty(ev.End.DateTime, ev.End.Date)
	}
	if ev.ExtendedProperties != nil {
		private := ev.ExtendedProperties.Private
		re.Managed = private[markerKey] == markerValue
		re.BookingID = private[bookingIDKey]
	}
	return re
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
