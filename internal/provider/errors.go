package provider

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

const maxErrorBodyLength = 256

// FetchError describes a failed call to the status or account endpoint.
type FetchError struct {
	Class      domain.ErrorClass
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "fetch error")

	if e.Class != domain.ErrorClassNone {
		parts = append(parts, e.Class.String())
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ClassifyHTTPStatus maps a non-2xx status code onto an error class.
func ClassifyHTTPStatus(statusCode int) domain.ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrorClassRateLimited
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return domain.ErrorClassClientError
	default:
		return domain.ErrorClassServerError
	}
}

// ClassifyTransportError maps a transport-level failure onto an error class.
func ClassifyTransportError(err error) domain.ErrorClass {
	if err == nil {
		return domain.ErrorClassNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.ErrorClassDNSFailure
	}

	if isTLSError(err) {
		return domain.ErrorClassTLSFailure
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) {
		return domain.ErrorClassSocketReset
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrorClassTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return domain.ErrorClassConnectFailure
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return domain.ErrorClassConnectFailure
	}

	return domain.ErrorClassUnknown
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}

	// alerts sent by the peer during the handshake carry an unexported type
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "remote error"
}

// failureResult turns an error class into a result variant. CLIENT_ERROR_4XX always fails fast;
// TIMEOUT is retried only when retryTimeouts is set.
func failureResult(class domain.ErrorClass, detail string, retryTimeouts bool) domain.StatusCheckResult {
	switch class {
	case domain.ErrorClassClientError:
		return domain.NewPermanentResult(class, detail)
	case domain.ErrorClassTimeout:
		if retryTimeouts {
			return domain.NewRetryableResult(class, detail)
		}
		return domain.NewPermanentResult(class, detail)
	default:
		return domain.NewRetryableResult(class, detail)
	}
}

func httpErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("status endpoint returned %d", statusCode)
	body = strings.TrimSpace(body)
	if body == "" {
		return base
	}
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength] + "..."
	}
	return fmt.Sprintf("%s: %s", base, body)
}
