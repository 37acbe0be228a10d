package healthchecker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sablelabs/sable/internal/config"
	"github.com/sablelabs/sable/internal/logging"
	"go.uber.org/zap"
)

func CheckSMS() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiUrl, err := url.JoinPath(config.Conf.SMSBaseUrl, "/health")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiUrl, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+config.Conf.SMSAPIKey)

	client := &http.Client{
		Timeout: time.Duration(config.Conf.SMSTimeout) * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		logging.Logger.Info("sms health api status", zap.Error(err))
		return err
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("sms health api returned %d", resp.StatusCode)
	}

	return nil
}
