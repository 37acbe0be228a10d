package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sablelabs/sable/internal/config"
	"github.com/stretchr/testify/require"
)

func withProfileAPI(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	oldBaseURL := config.Conf.ProfileBaseUrl
	config.Conf.ProfileBaseUrl = ts.URL

	t.Cleanup(func() {
		config.Conf.ProfileBaseUrl = oldBaseURL
	})

	return NewService()
}

func TestGetContextDecodesResponse(t *testing.T) {
	var gotPhone string

	profileService := withProfileAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPhone = r.URL.Query().Get("phone")

		_, _ = w.Write([]byte(`{
			"found": true,
			"user_id": "u-1",
			"conversation_id": "c-1",
			"claims": ["booked before"],
			"pending_requirements": ["email"],
			"recent_messages": ["them: hi", "us: hello"]
		}`))
	})

	profileContext, err := profileService.GetContext(context.Background(), "+447700900001")
	require.NoError(t, err)
	require.Equal(t, "+447700900001", gotPhone)
	require.True(t, profileContext.Found)
	require.Equal(t, "u-1", profileContext.UserID)
	require.Equal(t, "c-1", profileContext.ConversationID)
	require.Equal(t, []string{"booked before"}, profileContext.Claims)
	require.Equal(t, []string{"email"}, profileContext.PendingRequirements)
	require.Len(t, profileContext.RecentMessages, 2)
}

func TestGetContextUnknownPhone(t *testing.T) {
	profileService := withProfileAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"found": false}`))
	})

	profileContext, err := profileService.GetContext(context.Background(), "+447700900099")
	require.NoError(t, err)
	require.False(t, profileContext.Found)
	require.Empty(t, profileContext.UserID)
}

func TestGetContextServerError(t *testing.T) {
	profileService := withProfileAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := profileService.GetContext(context.Background(), "+447700900001")
	require.ErrorIs(t, err, ErrContextRequest)
}
