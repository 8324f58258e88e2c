package gcal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/calendar/v3"
)

// fakeCalendar is an in-memory stand-in for the Calendar v3 events resource.
type fakeCalendar struct {
	mu       sync.Mutex
	events   []*calendar.Event
	nextID   int
	pageSize int

	// failures maps "METHOD eventID" (or "GET list") to a queue of status
	// codes to return before serving normally.
	failures map[string][]int

	requests   []string
	authHeader string
	lastQuery  map[string]string
}

func newFakeCalendar(t *testing.T) (*fakeCalendar, *httptest.Server) {
	t.Helper()
	f := &fakeCalendar{failures: make(map[string][]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/{cal}/events", f.list)
	mux.HandleFunc("POST /calendars/{cal}/events", f.insert)
	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", f.update)
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", f.delete)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCalendar) seed(events ...*calendar.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
}

func (f *fakeCalendar) failNext(key string, codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], codes...)
}

// popFailure reports the queued status for key, if any. Caller holds mu.
func (f *fakeCalendar) popFailure(key string) (int, bool) {
	q := f.failures[key]
	if len(q) == 0 {
		return 0, false
	}
	f.failures[key] = q[1:]
	return q[0], true
}

func (f *fakeCalendar) record(r *http.Request) {
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.authHeader = r.Header.Get("Authorization")
}

func (f *fakeCalendar) find(id string) int {
	for i, ev := range f.events {
		if ev.Id == id {
			return i
		}
	}
	return -1
}

func (f *fakeCalendar) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)
	f.lastQuery = map[string]string{}
	for k := range r.URL.Query() {
		f.lastQuery[k] = r.URL.Query().Get(k)
	}
	if code, ok := f.popFailure("GET list"); ok {
		writeAPIError(w, code, "")
		return
	}

	start := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := len(f.events)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}
	page := &calendar.Events{Items: f.events[start:end]}
	if end < len(f.events) {
		page.NextPageToken = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, page)
}

func (f *fakeCalendar) insert(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)
	if code, ok := f.popFailure("POST"); ok {
		writeAPIError(w, code, "")
		return
	}

	var ev calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeAPIError(w, http.StatusBadRequest, "")
		return
	}
	f.nextID++
	ev.Id = fmt.Sprintf("evt-%d", f.nextID)
	f.events = append(f.events, &ev)
	writeJSON(w, http.StatusOK, &ev)
}

func (f *fakeCalendar) update(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)
	id := r.PathValue("id")
	if code, ok := f.popFailure("PUT " + id); ok {
		writeAPIError(w, code, "")
		return
	}

	i := f.find(id)
	if i < 0 {
		writeAPIError(w, http.StatusNotFound, "notFound")
		return
	}
	var ev calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeAPIError(w, http.StatusBadRequest, "")
		return
	}
	ev.Id = id
	f.events[i] = &ev
	writeJSON(w, http.StatusOK, &ev)
}

func (f *fakeCalendar) delete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)
	id := r.PathValue("id")
	if code, ok := f.popFailure("DELETE " + id); ok {
		reason := ""
		if code == http.StatusForbidden {
			reason = "rateLimitExceeded"
		}
		writeAPIError(w, code, reason)
		return
	}

	i := f.find(id)
	if i < 0 {
		writeAPIError(w, http.StatusGone, "deleted")
		return
	}
	f.events = append(f.events[:i], f.events[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeCalendar) requestLog() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.requests, "\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError writes an error body in the shape Google returns, which
// googleapi.CheckResponse decodes into *googleapi.Error.
func writeAPIError(w http.ResponseWriter, code int, reason string) {
	if reason == "" {
		reason = "backendError"
	}
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": http.StatusText(code),
			"errors": []map[string]string{
				{"domain": "global", "reason": reason, "message": http.StatusText(code)},
			},
		},
	})
}
