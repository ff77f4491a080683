package domain

// ErrorClass classifies why a status check failed.
type ErrorClass string

const (
	ErrorClassNone           ErrorClass = ""
	ErrorClassDNSFailure     ErrorClass = "DNS_FAILURE"
	ErrorClassConnectFailure ErrorClass = "CONNECT_FAILURE"
	ErrorClassTLSFailure     ErrorClass = "TLS_FAILURE"
	ErrorClassSocketReset    ErrorClass = "SOCKET_RESET"
	ErrorClassTimeout        ErrorClass = "TIMEOUT"
	ErrorClassRateLimited    ErrorClass = "RATE_LIMITED"
	ErrorClassClientError    ErrorClass = "CLIENT_ERROR_4XX"
	ErrorClassServerError    ErrorClass = "SERVER_ERROR_5XX"
	ErrorClassUnknown        ErrorClass = "UNKNOWN"
)

func (c ErrorClass) String() string {
	if c == ErrorClassNone {
		return "none"
	}
	return string(c)
}

// IsConnectivity reports connection-level failures that usually clear once the network settles.
func (c ErrorClass) IsConnectivity() bool {
	switch c {
	case ErrorClassDNSFailure, ErrorClassConnectFailure, ErrorClassTLSFailure, ErrorClassSocketReset:
		return true
	}
	return false
}

// UserMessage returns actionable text shown when a session ends on this class.
func (c ErrorClass) UserMessage() string {
	switch c {
	case ErrorClassDNSFailure:
		return "DNS resolution failed; check connectivity or try a different network"
	case ErrorClassConnectFailure:
		return "could not connect to the status service; check your internet connection"
	case ErrorClassTLSFailure:
		return "secure connection to the status service failed; check the device date and network"
	case ErrorClassSocketReset:
		return "connection to the status service was interrupted; try again"
	case ErrorClassTimeout:
		return "status service did not respond in time; try again later"
	case ErrorClassRateLimited:
		return "status service is rate limiting requests; try again in a few seconds"
	case ErrorClassClientError:
		return "status request was rejected; verify the mandate id and credentials"
	case ErrorClassServerError:
		return "status service is unavailable; try again later"
	default:
		return "status check failed for an unknown reason"
	}
}
