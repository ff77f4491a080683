package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

const (
	statusPath = "v3/payments/upi/autopay/mandate/status"

	defaultRawStatus     = "PENDING"
	defaultStatusMessage = "Status check completed"

	defaultConnectTimeout = 15 * time.Second
	defaultRequestTimeout = 30 * time.Second
	connectRetryWait      = 500 * time.Millisecond
	connectRetryMaxWait   = 2 * time.Second
)

type StatusClientConfig struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// ConnectRetries is the number of transport-level retries for connectivity failures.
	// Timeouts are never retried here.
	ConnectRetries int
	// RetryTimeouts marks TIMEOUT results as retryable instead of permanent.
	RetryTimeouts bool
}

type statusResponse struct {
	DecentroTxnID string      `json:"decentroTxnId"`
	Status        string      `json:"status"`
	ResponseCode  string      `json:"responseCode"`
	Message       string      `json:"message"`
	Data          *statusData `json:"data"`
}

type statusData struct {
	MandateStatus     string `json:"mandate_status"`
	DecentroMandateID string `json:"decentro_mandate_id"`
	UMN               string `json:"umn"`
	TxnID             string `json:"txnId"`
	NPCITxnID         string `json:"npci_txn_id"`
	CustomerVPA       string `json:"customer_vpa"`
	Amount            string `json:"amount"`
	Remarks           string `json:"remarks"`
}

// StatusClient queries the mandate status endpoint over HTTPS.
type StatusClient struct {
	client        *resty.Client
	clientID      string
	clientSecret  string
	retryTimeouts bool
	now           func() time.Time
}

func NewStatusClient(cfg StatusClientConfig) (*StatusClient, error) {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	client := resty.New()
	client.SetTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	})

	return NewStatusClientWithClient(cfg, client)
}

func NewStatusClientWithClient(cfg StatusClientConfig, client *resty.Client) (*StatusClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("status base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid status base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if cfg.ConnectRetries < 0 {
		return nil, fmt.Errorf("connect retries must be >= 0")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(requestTimeout)
	client.SetRetryCount(cfg.ConnectRetries)
	client.SetRetryWaitTime(connectRetryWait)
	client.SetRetryMaxWaitTime(connectRetryMaxWait)
	client.AddRetryCondition(func(_ *resty.Response, err error) bool {
		return err != nil && ClassifyTransportError(err).IsConnectivity()
	})

	return &StatusClient{
		client:        client,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		retryTimeouts: cfg.RetryTimeouts,
		now:           time.Now,
	}, nil
}

func (c *StatusClient) Fetch(ctx context.Context, mandateID domain.MandateID) domain.StatusCheckResult {
	if c == nil || c.client == nil {
		return domain.NewPermanentResult(domain.ErrorClassUnknown, "status client is not initialized")
	}

	start := c.now()
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("client_id", c.clientID).
		SetHeader("client_secret", c.clientSecret).
		SetQueryParam("decentro_mandate_id", mandateID.String()).
		Get("/" + statusPath)
	latency := c.now().Sub(start)

	if err != nil {
		class := ClassifyTransportError(err)
		fetchErr := &FetchError{Class: class, Message: "status request failed", Cause: err}
		return failureResult(class, fetchErr.Error(), c.retryTimeouts).WithLatency(latency)
	}
	if response == nil {
		return domain.NewRetryableResult(domain.ErrorClassUnknown, "status endpoint returned empty response").
			WithLatency(latency)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return parseStatusBody(response.Body()).WithHTTPStatus(statusCode).WithLatency(latency)
	}

	class := ClassifyHTTPStatus(statusCode)
	return failureResult(class, httpErrorMessage(statusCode, response.String()), c.retryTimeouts).
		WithHTTPStatus(statusCode).
		WithLatency(latency)
}

func parseStatusBody(body []byte) domain.StatusCheckResult {
	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.NewRetryableResult(domain.ErrorClassUnknown, fmt.Sprintf("malformed status response: %v", err))
	}

	rawStatus := defaultRawStatus
	remarks := ""
	if payload.Data != nil {
		if status := strings.ToUpper(strings.TrimSpace(payload.Data.MandateStatus)); status != "" {
			rawStatus = status
		}
		remarks = payload.Data.Remarks
	}

	return domain.NewSuccessResult(rawStatus, firstNonEmpty(payload.Message, remarks, defaultStatusMessage))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
