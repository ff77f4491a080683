package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

const (
	accountPath           = "v3/banking/mobile_to_account"
	defaultAccountTimeout = 30 * time.Second
	demoTxnPrefix         = "DEMO_TXN_"
)

type demoAccount struct {
	name, accountNumber, ifsc, upiVPA, amount string
}

// keyed by the last digit of the mobile number
var demoAccounts = map[byte]demoAccount{
	'1': {"John Doe", "1234567890123456", "HDFC0001234", "john.doe@paytm", "1000.00"},
	'2': {"Jane Smith", "9876543210987654", "ICIC0005678", "jane.smith@gpay", "2500.50"},
	'3': {"Raj Patel", "5555666677778888", "SBIN0009999", "raj.patel@phonepe", "750.25"},
}

var fallbackDemoAccount = demoAccount{"Demo User", "1111222233334444", "AXIS0001111", "demo.user@upi", "500.00"}

// DemoAccountProvider returns canned account data without calling the bank.
type DemoAccountProvider struct {
	newTxnID func() string
}

func NewDemoAccountProvider() *DemoAccountProvider {
	return &DemoAccountProvider{newTxnID: func() string {
		return demoTxnPrefix + strings.ToUpper(uuid.NewString()[:8])
	}}
}

func (p *DemoAccountProvider) Lookup(ctx context.Context, mobileNumber string) (*domain.AccountDetails, error) {
	if err := domain.ValidateMobileNumber(mobileNumber); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mobileNumber = strings.TrimSpace(mobileNumber)
	acct, ok := demoAccounts[mobileNumber[len(mobileNumber)-1]]
	if !ok {
		acct = fallbackDemoAccount
	}

	return &domain.AccountDetails{
		Name:          acct.name,
		AccountNumber: acct.accountNumber,
		IFSC:          acct.ifsc,
		UPIVPA:        acct.upiVPA,
		TxnID:         p.newTxnID(),
		Amount:        acct.amount,
	}, nil
}

type AccountClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ConsumerURN  string
	Timeout      time.Duration
}

type accountRequest struct {
	ReferenceID        string `json:"reference_id"`
	MobileNumber       string `json:"mobile_number"`
	IsConsentGranted   bool   `json:"is_consent_granted"`
	FetchBranchDetails bool   `json:"fetch_branch_details"`
	ConsumerURN        string `json:"consumer_urn,omitempty"`
}

type accountResponse struct {
	DecentroTxnID string       `json:"decentro_txn_id"`
	APIStatus     string       `json:"api_status"`
	Message       string       `json:"message"`
	Data          *accountData `json:"data"`
}

type accountData struct {
	NameAsPerBank string `json:"name_as_per_bank"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	UPIVPA        string `json:"upi_vpa"`
	PayoutAmount  string `json:"payout_amount"`
}

// AccountClient resolves mobile numbers through the banking API.
type AccountClient struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	consumerURN  string
	newRefID     func() string
}

func NewAccountClient(cfg AccountClientConfig) (*AccountClient, error) {
	return NewAccountClientWithClient(cfg, resty.New())
}

func NewAccountClientWithClient(cfg AccountClientConfig, client *resty.Client) (*AccountClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("account base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid account base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAccountTimeout
	}
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return &AccountClient{
		client:       client,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		consumerURN:  cfg.ConsumerURN,
		newRefID:     uuid.NewString,
	}, nil
}

func (c *AccountClient) Lookup(ctx context.Context, mobileNumber string) (*domain.AccountDetails, error) {
	if err := domain.ValidateMobileNumber(mobileNumber); err != nil {
		return nil, err
	}

	referenceID := c.newRefID()
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("client-id", c.clientID).
		SetHeader("client-secret", c.clientSecret).
		SetBody(accountRequest{
			ReferenceID:        referenceID,
			MobileNumber:       strings.TrimSpace(mobileNumber),
			IsConsentGranted:   true,
			FetchBranchDetails: true,
			ConsumerURN:        c.consumerURN,
		}).
		Post("/" + accountPath)
	if err != nil {
		return nil, &FetchError{Class: ClassifyTransportError(err), Message: "account request failed", Cause: err}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{
			Class:      ClassifyHTTPStatus(statusCode),
			StatusCode: statusCode,
			Message:    httpErrorMessage(statusCode, response.String()),
		}
	}

	var payload accountResponse
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, &FetchError{Class: domain.ErrorClassUnknown, StatusCode: statusCode, Message: "malformed account response", Cause: err}
	}
	if payload.Data == nil || strings.TrimSpace(payload.Data.AccountNumber) == "" {
		return nil, fmt.Errorf("%w: no account linked to mobile number", domain.ErrNotFound)
	}

	txnID := payload.DecentroTxnID
	if txnID == "" {
		txnID = referenceID
	}

	return &domain.AccountDetails{
		Name:          payload.Data.NameAsPerBank,
		AccountNumber: payload.Data.AccountNumber,
		IFSC:          payload.Data.IFSC,
		UPIVPA:        payload.Data.UPIVPA,
		TxnID:         txnID,
		Amount:        payload.Data.PayoutAmount,
	}, nil
}
