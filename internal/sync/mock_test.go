package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/fotostudio/bookingsync/internal/gcal"
	"github.com/fotostudio/bookingsync/internal/model"
)

// --- Mock Booking Store ------------------------------------------------------

type mockStore struct {
	mu       sync.Mutex
	bookings []*model.Booking // insertion order
	tokens   map[string]*oauth2.Token
	saved    int // SaveToken calls
	marked   int // MarkSynced calls
}

func newMockStore(bookings ...*model.Booking) *mockStore {
	m := &mockStore{tokens: make(map[string]*oauth2.Token)}
	for _, b := range bookings {
		cp := *b
		m.bookings = append(m.bookings, &cp)
	}
	return m
}

func (m *mockStore) BookingsForUser(_ context.Context, userID string) ([]*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Booking
	for _, b := range m.bookings {
		if b.UserID == userID && b.Active() {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) MarkSynced(_ context.Context, bookingID, eventID, syncedDate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bookings {
		if b.ID == bookingID {
			b.EventID = eventID
			b.LastSyncedDate = syncedDate
			m.marked++
			return nil
		}
	}
	return fmt.Errorf("booking %q not found", bookingID)
}

func (m *mockStore) Token(_ context.Context, userID string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[userID]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (m *mockStore) SaveToken(_ context.Context, userID string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tok
	m.tokens[userID] = &cp
	m.saved++
	return nil
}

func (m *mockStore) Users(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]string, 0, len(m.tokens))
	for u := range m.tokens {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (m *mockStore) setToken(userID, access string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = &oauth2.Token{AccessToken: access, RefreshToken: "refresh-" + userID}
}

// update edits a stored booking in place and bumps its change token.
func (m *mockStore) update(bookingID string, fn func(*model.Booking)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ID == bookingID {
			fn(b)
			return
		}
	}
}

func (m *mockStore) get(bookingID string) *model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ID == bookingID {
			cp := *b
			return &cp
		}
	}
	return nil
}

// --- Mock Calendar -----------------------------------------------------------

type mockCalendar struct {
	mu     sync.Mutex
	events map[string]model.RemoteEvent
	order  []string // event IDs in creation order
	nextID int

	// refreshed, if set, is returned by RefreshToken in place of the input.
	refreshed *oauth2.Token

	// failures holds errors returned by the next calls of an operation,
	// keyed by "list", "insert", "update", "delete" or "refresh".
	failures map[string][]error

	// block, if set, is received from at the start of ListEvents.
	block chan struct{}

	calls   map[string]int
	running int // concurrent ListEvents calls in flight
	maxRun  int
}

func newMockCalendar() *mockCalendar {
	return &mockCalendar{
		events:   make(map[string]model.RemoteEvent),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// seed adds events as if created outside the reconciler.
func (m *mockCalendar) seed(events ...model.RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.ID] = ev
		m.order = append(m.order, ev.ID)
	}
}

func (m *mockCalendar) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

func (m *mockCalendar) enter(op string) error {
	m.calls[op]++
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	m.failures[op] = queue[1:]
	return queue[0]
}

func (m *mockCalendar) RefreshToken(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("refresh"); err != nil {
		return nil, err
	}
	if m.refreshed != nil {
		cp := *m.refreshed
		return &cp, nil
	}
	return tok, nil
}

func (m *mockCalendar) ListEvents(ctx context.Context, _ *oauth2.Token, _ time.Time) ([]model.RemoteEvent, error) {
	m.mu.Lock()
	m.running++
	if m.running > m.maxRun {
		m.maxRun = m.running
	}
	block := m.block
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("list"); err != nil {
		return nil, err
	}
	out := make([]model.RemoteEvent, 0, len(m.order))
	for _, id := range m.order {
		if ev, ok := m.events[id]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockCalendar) InsertEvent(_ context.Context, _ *oauth2.Token, b *model.Booking) (model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("insert"); err != nil {
		return model.RemoteEvent{}, err
	}
	m.nextID++
	ev := eventFor(fmt.Sprintf("gcal-%d", m.nextID), b)
	m.events[ev.ID] = ev
	m.order = append(m.order, ev.ID)
	return ev, nil
}

func (m *mockCalendar) UpdateEvent(_ context.Context, _ *oauth2.Token, eventID string, b *model.Booking) (model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("update"); err != nil {
		return model.RemoteEvent{}, err
	}
	if _, ok := m.events[eventID]; !ok {
		return model.RemoteEvent{}, fmt.Errorf("update event %s: %w", eventID, gcal.ErrNotFound)
	}
	ev := eventFor(eventID, b)
	m.events[eventID] = ev
	return ev, nil
}

func (m *mockCalendar) DeleteEvent(_ context.Context, _ *oauth2.Token, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter("delete"); err != nil {
		return err
	}
	if _, ok := m.events[eventID]; !ok {
		return fmt.Errorf("delete event %s: %w", eventID, gcal.ErrNotFound)
	}
	delete(m.events, eventID)
	return nil
}

func (m *mockCalendar) get(eventID string) (model.RemoteEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	return ev, ok
}

func (m *mockCalendar) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockCalendar) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// writes returns the number of mutating calls made so far.
func (m *mockCalendar) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls["insert"] + m.calls["update"] + m.calls["delete"]
}

// removeOutOfBand deletes an event without going through the reconciler,
// as a user editing their calendar would.
func (m *mockCalendar) removeOutOfBand(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
}

func eventFor(id string, b *model.Booking) model.RemoteEvent {
	return model.RemoteEvent{
		ID:          id,
		Summary:     b.Summary,
		Description: b.Description,
		Start:       b.StartDateTime,
		End:         b.EndDateTime,
		TimeZone:    gcal.DefaultTimeZone,
		EventType:   "default",
		Managed:     true,
		BookingID:   b.ID,
	}
}
