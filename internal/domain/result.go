package domain

import "time"

// ResultKind tags the variant of a StatusCheckResult.
type ResultKind string

const (
	ResultSuccess   ResultKind = "SUCCESS"
	ResultRetryable ResultKind = "RETRYABLE_FAILURE"
	ResultPermanent ResultKind = "PERMANENT_FAILURE"
)

// StatusCheckResult is the normalized outcome of a single status fetch.
type StatusCheckResult struct {
	Kind           ResultKind
	RawStatus      string
	Message        string
	ErrorClass     ErrorClass
	Detail         string
	HTTPStatusCode *int
	Latency        time.Duration
}

func NewSuccessResult(rawStatus, message string) StatusCheckResult {
	return StatusCheckResult{Kind: ResultSuccess, RawStatus: rawStatus, Message: message}
}

func NewRetryableResult(class ErrorClass, detail string) StatusCheckResult {
	return StatusCheckResult{Kind: ResultRetryable, ErrorClass: class, Detail: detail}
}

func NewPermanentResult(class ErrorClass, detail string) StatusCheckResult {
	return StatusCheckResult{Kind: ResultPermanent, ErrorClass: class, Detail: detail}
}

func (r StatusCheckResult) WithHTTPStatus(code int) StatusCheckResult {
	if code > 0 {
		r.HTTPStatusCode = &code
	}
	return r
}

func (r StatusCheckResult) WithLatency(latency time.Duration) StatusCheckResult {
	r.Latency = latency
	return r
}

func (r StatusCheckResult) IsSuccess() bool   { return r.Kind == ResultSuccess }
func (r StatusCheckResult) IsRetryable() bool { return r.Kind == ResultRetryable }
func (r StatusCheckResult) IsPermanent() bool { return r.Kind == ResultPermanent }

// OutcomeReason explains how a polling session ended.
type OutcomeReason string

const (
	ReasonStatus           OutcomeReason = "status"
	ReasonPermanentError   OutcomeReason = "permanent_error"
	ReasonRetryExhausted   OutcomeReason = "retry_exhausted"
	ReasonDeadlineExceeded OutcomeReason = "deadline_exceeded"
)

func (r OutcomeReason) String() string { return string(r) }

// ResolutionOutcome is the single payload delivered at the end of a polling session.
type ResolutionOutcome struct {
	FinalState LifecycleState
	MandateID  MandateID
	Message    string
	Reason     OutcomeReason
	Attempts   int
	Timestamp  time.Time
}

func (o ResolutionOutcome) Succeeded() bool { return o.FinalState == StateSuccess }
