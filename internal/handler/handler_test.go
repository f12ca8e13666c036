package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository/memory"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/service"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/testutil"
)

var (
	start  = time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	regEnd = start.Add(48 * time.Hour)
)

type api struct {
	clock  *testutil.ManualClock
	router http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	store := memory.New()
	clock := testutil.NewManualClock(start)
	events := service.NewEventService(store, nil, clock)
	h := NewEventHandler(
		events,
		service.NewAdmissionService(store, nil, clock),
		service.NewDrawEngine(store, nil, clock, nil),
		nil,
	)
	return &api{clock: clock, router: NewRouter(h)}
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *api) createEvent(t *testing.T, capacity int, waitlist *int) model.Event {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/events", model.CreateEventRequest{
		Name: "Pottery", Capacity: capacity, WaitingListCapacity: waitlist, RegistrationEnd: regEnd,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var e model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func intPtr(v int) *int { return &v }

func TestHealthCheck(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEventLifecycle(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	e := a.createEvent(t, 1, intPtr(2))
	path := "/events/" + e.ID

	rec = a.do(t, http.MethodPost, path+"/join", model.EntrantRequest{EntrantID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.MembershipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.MembershipResponse{EventID: e.ID, EntrantID: "alice", Status: model.StatusWaitlist}, got)

	rec = a.do(t, http.MethodPost, path+"/join", model.EntrantRequest{EntrantID: "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "alice", "other entrants are not exposed")

	rec = a.do(t, http.MethodGet, "/entrants/alice/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var joined []model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	require.Len(t, joined, 1)
	assert.Equal(t, e.ID, joined[0].ID)

	rec = a.do(t, http.MethodPost, path+"/draw", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "registration for this event is still open", errorOf(t, rec))

	a.clock.Set(regEnd)
	rec = a.do(t, http.MethodPost, path+"/draw", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res model.DrawResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Selected, 1)
	assert.Len(t, res.NotSelected, 1)

	rec = a.do(t, http.MethodPost, path+"/accept", model.EntrantRequest{EntrantID: res.Selected[0]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, path+"/draw", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.AlreadyDrawn)

	rec = a.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntrantActions_ErrorMapping(t *testing.T) {
	a := newAPI(t)
	e := a.createEvent(t, 1, intPtr(1))
	path := "/events/" + e.ID

	a.do(t, http.MethodPost, path+"/join", model.EntrantRequest{EntrantID: "alice"})

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		msg    string
	}{
		{"already member", path + "/join", model.EntrantRequest{EntrantID: "alice"}, http.StatusConflict, "you are already on this event's list"},
		{"full", path + "/join", model.EntrantRequest{EntrantID: "bob"}, http.StatusConflict, "the waiting list is full"},
		{"not member", path + "/leave", model.EntrantRequest{EntrantID: "bob"}, http.StatusConflict, "you are not on this event's list"},
		{"wrong status", path + "/accept", model.EntrantRequest{EntrantID: "alice"}, http.StatusConflict, "this action is not available in your current status"},
		{"unknown event", "/events/missing/join", model.EntrantRequest{EntrantID: "alice"}, http.StatusNotFound, "event not found"},
		{"missing entrant", path + "/join", model.EntrantRequest{}, http.StatusBadRequest, ""},
		{"bad body", path + "/join", map[string]string{"who": "alice"}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.msg != "" {
				assert.Equal(t, tt.msg, errorOf(t, rec))
			}
		})
	}

	a.clock.Set(regEnd)
	rec := a.do(t, http.MethodPost, path+"/join", model.EntrantRequest{EntrantID: "carol"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "registration for this event is closed", errorOf(t, rec))
}

func TestLeave_ReportsNoStatus(t *testing.T) {
	a := newAPI(t)
	e := a.createEvent(t, 1, nil)
	path := "/events/" + e.ID

	a.do(t, http.MethodPost, path+"/join", model.EntrantRequest{EntrantID: "alice"})
	a.do(t, http.MethodPost, path+"/join", model.EntrantRequest{EntrantID: "bob"})

	rec := a.do(t, http.MethodPost, path+"/leave", model.EntrantRequest{EntrantID: " bob "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"event_id":"`+e.ID+`","entrant_id":"bob","status":""}`, rec.Body.String())
}

func TestUpdateEvent(t *testing.T) {
	a := newAPI(t)
	e := a.createEvent(t, 1, nil)

	rec := a.do(t, http.MethodPatch, "/events/"+e.ID, map[string]any{"capacity": 5, "description": "bring clay"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 5, got.Capacity)
	assert.Equal(t, "bring clay", got.Description)

	rec = a.do(t, http.MethodPatch, "/events/"+e.ID, map[string]any{"capacity": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEvent_Invalid(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/events", model.CreateEventRequest{Name: "", Capacity: 1, RegistrationEnd: regEnd})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFeed_DisabledWithoutHub(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/ws/entrants/alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubDrawer struct{ err error }

func (s stubDrawer) Draw(context.Context, string) (*model.DrawResult, error) { return nil, s.err }

func TestWriteServiceError_Contention(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("draw: gave up after 10 attempts: %w", repository.ErrConflict), http.StatusServiceUnavailable},
		{fmt.Errorf("draw: %w", repository.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("draw: %w", repository.ErrInvalidRecord), http.StatusInternalServerError},
		{errors.New("something else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewEventHandler(nil, nil, stubDrawer{err: tt.err}, nil)
		req := httptest.NewRequest(http.MethodPost, "/events/x/draw", nil)
		rec := httptest.NewRecorder()
		NewRouter(h).ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}

func TestCORSPreflight(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodOptions, "/events", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
