package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const deepLinkDateLayout = "02012006"

// MandateLink describes a UPI AutoPay mandate creation intent.
type MandateLink struct {
	PayeeVPA      string
	PayeeName     string
	MandateName   string
	TxnRef        string
	ValidityStart time.Time
	ValidityEnd   time.Time
	Amount        string
	AmountRule    string
	Recurrence    string
	Currency      string
	MerchantCode  string
	Note          string
	Purpose       string
	Mode          string
}

func (l MandateLink) Validate() error {
	if strings.TrimSpace(l.PayeeVPA) == "" {
		return fmt.Errorf("%w: payee vpa is required", ErrValidation)
	}
	if strings.TrimSpace(l.TxnRef) == "" {
		return fmt.Errorf("%w: transaction reference is required", ErrValidation)
	}
	if strings.TrimSpace(l.Amount) == "" {
		return fmt.Errorf("%w: amount is required", ErrValidation)
	}
	if !l.ValidityEnd.After(l.ValidityStart) {
		return fmt.Errorf("%w: validity end must be after validity start", ErrValidation)
	}
	return nil
}

// URI renders the upi://mandate deep link handed to the installed UPI app.
func (l MandateLink) URI() (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}

	params := []struct{ key, value string }{
		{"pa", l.PayeeVPA},
		{"pn", l.PayeeName},
		{"mn", l.MandateName},
		{"tid", l.TxnRef},
		{"validitystart", l.ValidityStart.Format(deepLinkDateLayout)},
		{"validityend", l.ValidityEnd.Format(deepLinkDateLayout)},
		{"am", l.Amount},
		{"amrule", valueOr(l.AmountRule, "MAX")},
		{"recur", valueOr(l.Recurrence, "ASPRESENTED")},
		{"tr", l.TxnRef},
		{"cu", valueOr(l.Currency, "INR")},
		{"mc", l.MerchantCode},
		{"tn", l.Note},
		{"rev", "Y"},
		{"block", "N"},
		{"txnType", "CREATE"},
		{"purpose", valueOr(l.Purpose, "14")},
		{"mode", valueOr(l.Mode, "13")},
	}

	// url.Values.Encode sorts keys; UPI apps expect the conventional order.
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+escapeParam(p.value))
	}

	return "upi://mandate?" + strings.Join(parts, "&"), nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func escapeParam(value string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
	return strings.ReplaceAll(escaped, "%40", "@")
}
