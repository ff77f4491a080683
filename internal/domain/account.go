package domain

import (
	"fmt"
	"strings"
)

const mobileNumberLength = 10

// AccountDetails is the bank account and UPI handle linked to a mobile number.
type AccountDetails struct {
	Name          string
	AccountNumber string
	IFSC          string
	UPIVPA        string
	TxnID         string
	Amount        string
}

func ValidateMobileNumber(mobile string) error {
	mobile = strings.TrimSpace(mobile)
	if len(mobile) != mobileNumberLength {
		return fmt.Errorf("%w: mobile number must have %d digits", ErrValidation, mobileNumberLength)
	}
	for _, r := range mobile {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: mobile number must be numeric", ErrValidation)
		}
	}
	return nil
}
