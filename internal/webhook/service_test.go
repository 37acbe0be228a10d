package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sablelabs/sable/internal/queue"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewServer(queue.NewService(client))
}

func postInbound(server *Server, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	server.handleInbound(rec, req)

	return rec
}

func TestHandleInboundQueuesMessage(t *testing.T) {
	server := newTestServer(t)

	rec := postInbound(server, `{"from":"+447700900001","body":"hi","message_id":"SM1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp["status"])
	require.NotEmpty(t, resp["message_id"])

	depth, err := server.Queue.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestHandleInboundAbsorbsDuplicateDelivery(t *testing.T) {
	server := newTestServer(t)

	rec := postInbound(server, `{"from":"+447700900001","body":"hi","message_id":"SM1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = postInbound(server, `{"from":"+447700900001","body":"hi","message_id":"SM1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "duplicate", resp["status"])
}

func TestHandleInboundRejectsMissingFields(t *testing.T) {
	server := newTestServer(t)

	rec := postInbound(server, `{"body":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postInbound(server, `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInboundRejectsEmptyProviderMessageID(t *testing.T) {
	server := newTestServer(t)

	rec := postInbound(server, `{"from":"+447700900001","body":"hi","message_id":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A message from a different phone must not be absorbed as a
	// duplicate of the rejected one.
	rec = postInbound(server, `{"from":"+447700900002","body":"hello","message_id":"SM9"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	depth, err := server.Queue.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestHandleHealthz(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.handleHealthz(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
