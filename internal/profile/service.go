package profile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"go.uber.org/zap"
)

var ErrContextRequest = errors.New("profile context request failed")

// Context is the read-only conversation context pulled before generation.
type Context struct {
	Found               bool     `json:"found"`
	UserID              string   `json:"user_id"`
	ConversationID      string   `json:"conversation_id"`
	Claims              []string `json:"claims"`
	PendingRequirements []string `json:"pending_requirements"`
	RecentMessages      []string `json:"recent_messages"`
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// GetContext fetches the profile service's view of one phone number. The
// collaborator owns all claim and user state; this client only reads.
func (profileService *Service) GetContext(ctx context.Context, phoneNumber string) (*Context, error) {
	apiUrl, err := url.JoinPath(config.Conf.ProfileBaseUrl, "/v1/context")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiUrl, nil)
	if err != nil {
		return nil, err
	}

	query := req.URL.Query()
	query.Set("phone", phoneNumber)
	req.URL.RawQuery = query.Encode()

	if config.Conf.ProfileAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+config.Conf.ProfileAPIKey)
	}

	client := &http.Client{
		Timeout: time.Duration(config.Conf.ProfileTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		logging.Logger.Error("profile context request rejected",
			zap.String("phone_number", phoneNumber),
			zap.Int("status_code", resp.StatusCode),
		)

		return nil, ErrContextRequest
	}

	var profileContext Context

	err = json.Unmarshal(body, &profileContext)
	if err != nil {
		return nil, err
	}

	return &profileContext, nil
}
