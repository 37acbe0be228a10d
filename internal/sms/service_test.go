package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sablelabs/sable/internal/config"
	"github.com/stretchr/testify/require"
)

func withProvider(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	oldBaseURL := config.Conf.SMSBaseUrl
	oldAPIKey := config.Conf.SMSAPIKey
	config.Conf.SMSBaseUrl = ts.URL
	config.Conf.SMSAPIKey = "test-key"

	t.Cleanup(func() {
		config.Conf.SMSBaseUrl = oldBaseURL
		config.Conf.SMSAPIKey = oldAPIKey
	})

	return NewService()
}

func TestSendReturnsProviderMessageID(t *testing.T) {
	var gotAuth string

	var gotPayload OutboundMessage

	smsService := withProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message_id":"prov-42","status":"accepted"}`))
	})

	id, err := smsService.Send(context.Background(), OutboundMessage{
		PhoneNumber: "+447700900001",
		Message:     "hello",
		MessageType: "reply",
		UserID:      "u-1",
	})
	require.NoError(t, err)
	require.Equal(t, "prov-42", id)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "+447700900001", gotPayload.PhoneNumber)
	require.Equal(t, "hello", gotPayload.Message)
}

func TestSendRejectedByProvider(t *testing.T) {
	smsService := withProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid number"}`))
	})

	_, err := smsService.Send(context.Background(), OutboundMessage{PhoneNumber: "bad", Message: "x"})
	require.ErrorIs(t, err, ErrSendRequest)
}

func TestSendServerErrorIsSentinel(t *testing.T) {
	smsService := withProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := smsService.Send(context.Background(), OutboundMessage{PhoneNumber: "+447700900001", Message: "x"})
	require.ErrorIs(t, err, ErrSMSServerError)
}

func TestSendEmptyMessageID(t *testing.T) {
	smsService := withProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	})

	_, err := smsService.Send(context.Background(), OutboundMessage{PhoneNumber: "+447700900001", Message: "x"})
	require.ErrorIs(t, err, ErrEmptyMessageID)
}
