package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// isoLayouts are the accepted forms for booking start and end times. The
// offset-less form is interpreted in the calendar's configured timezone.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ErrInvalidBooking is wrapped by every error returned from [Booking.Validate].
var ErrInvalidBooking = errors.New("invalid booking")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("isodatetime", validateISODateTime); err != nil {
		panic(fmt.Sprintf("registering isodatetime validation: %v", err))
	}
	return v
}

func validateISODateTime(fl validator.FieldLevel) bool {
	_, err := ParseDateTime(fl.Field().String())
	return err == nil
}

// ParseDateTime parses an ISO-8601 booking timestamp. Timestamps without an
// offset are returned in UTC and should be treated as wall-clock times.
func ParseDateTime(s string) (time.Time, error) {
	return ParseDateTimeIn(s, time.UTC)
}

// ParseDateTimeIn is like [ParseDateTime] but interprets offset-less
// timestamps in loc.
func ParseDateTimeIn(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date-time", s)
}

// Validate checks field constraints and that the booking ends after it starts.
func (b *Booking) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBooking, err)
	}
	start, _ := ParseDateTime(b.StartDateTime)
	end, _ := ParseDateTime(b.EndDateTime)
	if !end.After(start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidBooking, b.EndDateTime, b.StartDateTime)
	}
	return nil
}
