package sms

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/sablelabs/sable/internal/circuitbreak"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrSendRequest    = errors.New("sms send request failed")
	ErrSMSServerError = errors.New("sms provider server error")
	ErrEmptyMessageID = errors.New("sms provider returned empty message id")
)

type OutboundMessage struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	UserID      string `json:"user_id,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Service is the outbound transport client. One attempt is at-least-once:
// the provider may accept a message whose acknowledgement we lose, which
// is why every caller pairs Send with an idempotency key.
type Service struct {
	CircuitBreaker *gobreaker.CircuitBreaker[[]byte]
}

func NewService() *Service {
	cbSettings := gobreaker.Settings{
		Name:     "SMS",
		Interval: time.Duration(config.Conf.SMSIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.SMSConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Info("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.SMSService)
			}
		},
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrSMSServerError)
		},
	}

	return &Service{
		CircuitBreaker: gobreaker.NewCircuitBreaker[[]byte](cbSettings),
	}
}

// Send delivers one outbound message and returns the provider message id.
func (smsService *Service) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	apiUrl, err := url.JoinPath(config.Conf.SMSBaseUrl, "/messages")
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	body, statusCode, err := smsService.doSendRequestWithRetry(ctx, apiUrl, reqBody)
	if err != nil {
		return "", err
	}

	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		logging.Logger.Error("sms provider rejected message",
			zap.String("phone_number", msg.PhoneNumber),
			zap.Int("status_code", statusCode),
			zap.ByteString("response_body", body),
		)

		return "", ErrSendRequest
	}

	var response sendResponse

	err = json.Unmarshal(body, &response)
	if err != nil {
		return "", err
	}

	if response.MessageID == "" {
		return "", ErrEmptyMessageID
	}

	logging.Logger.Info("sms sent",
		zap.String("phone_number", msg.PhoneNumber),
		zap.String("message_type", msg.MessageType),
		zap.String("provider_message_id", response.MessageID),
	)

	return response.MessageID, nil
}

func (smsService *Service) doSendRequestWithRetry(
	ctx context.Context,
	apiUrl string,
	reqBody []byte,
) ([]byte, int, error) {
	var (
		body       []byte
		statusCode int
	)

	body, err := smsService.CircuitBreaker.Execute(func() ([]byte, error) {
		err := retry.Do(
			func() error {
				var err error

				body, statusCode, err = smsService.doSendRequest(ctx, apiUrl, reqBody)

				return err
			},
			retry.Attempts(config.Conf.SMSRetryMaxAttempts),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(time.Duration(config.Conf.SMSRetryBackoffMin)*time.Second),
			retry.MaxDelay(time.Duration(config.Conf.SMSRetryBackoffMax)*time.Second),
		)

		if statusCode >= http.StatusInternalServerError {
			return nil, ErrSMSServerError
		}

		if err != nil {
			return nil, err
		}

		return body, nil
	})
	if err != nil {
		return nil, 0, err
	}

	return body, statusCode, nil
}

func (smsService *Service) doSendRequest(ctx context.Context, apiUrl string, reqBody []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiUrl, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Authorization", "Bearer "+config.Conf.SMSAPIKey)
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	client := &http.Client{
		Timeout: time.Duration(config.Conf.SMSTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}
