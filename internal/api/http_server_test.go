package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomqueue/internal/config"
	"roomqueue/internal/events"
	"roomqueue/internal/models"
	"roomqueue/internal/queue"
	"roomqueue/internal/repository"
	syncengine "roomqueue/internal/sync"
)

func newTestServer(t *testing.T, cfg config.APIConfig, backend *Backend) *HTTPServer {
	t.Helper()
	engine := queue.New(repository.NewMemoryStore(), events.NewBus(nil), syncengine.DefaultRetryPolicy(), nil)
	return NewHTTPServer(cfg, engine, backend, t.TempDir(), nil)
}

func bookingBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(models.BookingData{
		RoomID:      "room-101",
		Date:        "2025-03-10",
		StartTime:   "09:00",
		EndTime:     "10:00",
		RequesterID: "user-1",
		Purpose:     "standup",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func doRequest(srv *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestEnqueueAndGet(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Entry         models.QueuedRequest `json:"entry"`
		LocalConflict bool                 `json:"local_conflict"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Entry.QueueID)
	assert.Equal(t, models.StatusPendingValidation, created.Entry.Status)
	assert.False(t, created.LocalConflict)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue/"+created.Entry.QueueID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.QueuedRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.Entry.QueueID, got.QueueID)
	assert.Equal(t, "room-101", got.Booking.RoomID)
}

func TestEnqueueReportsLocalConflict(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	overlap, err := json.Marshal(models.BookingData{
		RoomID: "room-101", Date: "2025-03-10",
		StartTime: "09:30", EndTime: "10:30", RequesterID: "user-2",
	})
	require.NoError(t, err)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bytes.NewBuffer(overlap)))
	require.Equal(t, http.StatusCreated, rec.Code, "a local conflict is advisory, not a rejection")

	var created struct {
		LocalConflict bool `json:"local_conflict"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.LocalConflict)
}

func TestEnqueueRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue",
		bytes.NewBufferString(`{"room_id":"room-101","unknown_field":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue",
		bytes.NewBufferString(`{"room_id":"","date":"2025-03-10","start_time":"09:00","end_time":"10:00","requester_id":"u"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWithStatusFilter(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue?status="+models.StatusPendingValidation, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Entries []models.QueuedRequest `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Entries, 1)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchAndDeleteEntry(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Entry models.QueuedRequest `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Entry.QueueID

	rec = doRequest(srv, httptest.NewRequest(http.MethodPatch, "/api/v1/queue/"+id,
		bytes.NewBufferString(fmt.Sprintf(`{"status":%q}`, models.StatusFailed))))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue/"+id, nil))
	var got models.QueuedRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.StatusFailed, got.Status)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPatch, "/api/v1/queue/"+id,
		bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty patch is rejected")

	rec = doRequest(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/queue/"+id, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResubmitEndpoint(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Entry models.QueuedRequest `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Entry.QueueID

	// A live entry cannot be resubmitted.
	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue/"+id+"/resubmit", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPatch, "/api/v1/queue/"+id,
		bytes.NewBufferString(fmt.Sprintf(`{"status":%q}`, models.StatusAbandoned))))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue/"+id+"/resubmit", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var fresh models.QueuedRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))
	assert.NotEqual(t, id, fresh.QueueID)
	assert.Equal(t, models.StatusPendingValidation, fresh.Status)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue/"+id+"/resubmit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "the original is gone")
}

func TestSyncEndpoint(t *testing.T) {
	backend := &Backend{
		Submit: func(context.Context, models.BookingData) (string, error) {
			return "booking-1", nil
		},
		CheckConflict: func(context.Context, string, string, string, string) (bool, error) {
			return false, nil
		},
	}
	srv := newTestServer(t, config.APIConfig{}, backend)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var synced struct {
		Results []models.SyncResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &synced))
	require.Len(t, synced.Results, 1)
	assert.True(t, synced.Results[0].Success)
	assert.Equal(t, "booking-1", synced.Results[0].BookingID)
}

func TestSyncEndpointWithoutBackend(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue/sync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsAndClearSynced(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Stats map[string]int `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Stats[models.StatusPendingValidation])
	assert.Contains(t, stats.Stats, models.StatusAbandoned)

	rec = doRequest(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/queue/synced", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cleared struct {
		Removed int `json:"removed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cleared))
	assert.Equal(t, 0, cleared.Removed)
}

func TestConflictCheckEndpoint(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	body := `{"booking":{"room_id":"room-101","date":"2025-03-10","start_time":"09:30","end_time":"10:30","requester_id":"user-2"}}`
	rec = doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/conflicts/check", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var checked struct {
		Conflict bool `json:"conflict"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checked))
	assert.True(t, checked.Conflict)
}

func authConfig() config.APIConfig {
	return config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "admin-key", Name: "admin"},
				{Key: "reader-key", Name: "reader", Permissions: []string{"read:queue"}},
			},
		},
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, authConfig(), nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("x-api-key", "wrong-key")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("x-api-key", "admin-key")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthPermissions(t *testing.T) {
	srv := newTestServer(t, authConfig(), nil)

	// The read-only key can list but not enqueue.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("x-api-key", "reader-key")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t))
	req.Header.Set("x-api-key", "reader-key")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The unrestricted key can do both.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t))
	req.Header.Set("x-api-key", "admin-key")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 2}}
	srv := newTestServer(t, cfg, nil)

	var got []int
	for i := 0; i < 4; i++ {
		rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
		got = append(got, rec.Code)
	}
	assert.Equal(t, http.StatusOK, got[0])
	assert.Equal(t, http.StatusOK, got[1])
	assert.Equal(t, http.StatusTooManyRequests, got[2])
	assert.Equal(t, http.StatusTooManyRequests, got[3])
}

func TestExportEndpoint(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{}, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodPost, "/api/v1/queue", bookingBody(t)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/queue/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var exported struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
	assert.FileExists(t, exported.Path)
}
