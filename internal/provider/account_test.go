package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

func TestDemoAccountProviderLookup(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		mobile      string
		wantName    string
		wantAccount string
		wantAmount  string
	}{
		{mobile: "9876543211", wantName: "John Doe", wantAccount: "1234567890123456", wantAmount: "1000.00"},
		{mobile: "9876543212", wantName: "Jane Smith", wantAccount: "9876543210987654", wantAmount: "2500.50"},
		{mobile: "9876543213", wantName: "Raj Patel", wantAccount: "5555666677778888", wantAmount: "750.25"},
		{mobile: "9876543219", wantName: "Demo User", wantAccount: "1111222233334444", wantAmount: "500.00"},
	}

	p := NewDemoAccountProvider()
	for _, tt := range testCases {
		got, err := p.Lookup(context.Background(), tt.mobile)
		if err != nil {
			t.Fatalf("Lookup(%s) error = %v", tt.mobile, err)
		}
		if got.Name != tt.wantName || got.AccountNumber != tt.wantAccount || got.Amount != tt.wantAmount {
			t.Fatalf("Lookup(%s) = %+v", tt.mobile, got)
		}
		if !strings.HasPrefix(got.TxnID, "DEMO_TXN_") || len(got.TxnID) != len("DEMO_TXN_")+8 {
			t.Fatalf("TxnID = %q", got.TxnID)
		}
		if got.TxnID != strings.ToUpper(got.TxnID) {
			t.Fatalf("TxnID = %q, want upper case", got.TxnID)
		}
	}
}

func TestDemoAccountProviderRejectsInvalidMobile(t *testing.T) {
	t.Parallel()

	for _, mobile := range []string{"", "12345", "98765432ab", "123456789012"} {
		if _, err := NewDemoAccountProvider().Lookup(context.Background(), mobile); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Lookup(%q) error = %v, want %v", mobile, err, domain.ErrValidation)
		}
	}
}

func TestAccountClientLookup(t *testing.T) {
	t.Parallel()

	var gotBody accountRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/banking/mobile_to_account" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("client-id") != "cid" || r.Header.Get("client-secret") != "csecret" {
			t.Errorf("credential headers missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"decentro_txn_id":"DTX1","api_status":"SUCCESS","data":{"name_as_per_bank":"Asha","account_number":"000111","ifsc":"YESB0000001","upi_vpa":"asha@ybl","payout_amount":"1.00"}}`))
	}))
	defer server.Close()

	c, err := NewAccountClient(AccountClientConfig{BaseURL: server.URL, ClientID: "cid", ClientSecret: "csecret", ConsumerURN: "urn-1"})
	if err != nil {
		t.Fatalf("NewAccountClient() error = %v", err)
	}

	got, err := c.Lookup(context.Background(), "9876543210")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	want := domain.AccountDetails{Name: "Asha", AccountNumber: "000111", IFSC: "YESB0000001", UPIVPA: "asha@ybl", TxnID: "DTX1", Amount: "1.00"}
	if *got != want {
		t.Fatalf("Lookup() = %+v, want %+v", *got, want)
	}

	if gotBody.MobileNumber != "9876543210" || !gotBody.IsConsentGranted || !gotBody.FetchBranchDetails || gotBody.ConsumerURN != "urn-1" {
		t.Fatalf("request body = %+v", gotBody)
	}
	if gotBody.ReferenceID == "" {
		t.Fatal("reference_id should be set")
	}
}

func TestAccountClientLookupErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		statusCode   int
		body         string
		wantNotFound bool
		wantClass    domain.ErrorClass
	}{
		{name: "no linked account", statusCode: http.StatusOK, body: `{"api_status":"FAILURE","data":null}`, wantNotFound: true},
		{name: "rejected", statusCode: http.StatusUnauthorized, body: `{"message":"bad creds"}`, wantClass: domain.ErrorClassClientError},
		{name: "server down", statusCode: http.StatusBadGateway, body: ``, wantClass: domain.ErrorClassServerError},
	}

	for _, tt := range testCases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := NewAccountClient(AccountClientConfig{BaseURL: server.URL})
			if err != nil {
				t.Fatalf("NewAccountClient() error = %v", err)
			}

			_, err = c.Lookup(context.Background(), "9876543210")
			if err == nil {
				t.Fatal("Lookup() expected error")
			}
			if tt.wantNotFound {
				if !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("error = %v, want %v", err, domain.ErrNotFound)
				}
				return
			}

			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("error = %T, want *FetchError", err)
			}
			if fetchErr.Class != tt.wantClass || fetchErr.StatusCode != tt.statusCode {
				t.Fatalf("FetchError = %+v, want class %s status %d", fetchErr, tt.wantClass, tt.statusCode)
			}
		})
	}
}
