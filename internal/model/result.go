package model

// ResultStatus is the outcome of one check execution
type ResultStatus string

const (
	ResultStatusOK      ResultStatus = "ok"
	ResultStatusWarning ResultStatus = "warning"
	ResultStatusError   ResultStatus = "error"
)

// Error types reported in Result.Data["error_type"]
const (
	ErrTypeConfiguration      = "configuration_error"
	ErrTypeConnection         = "connection_error"
	ErrTypeConnectTimeout     = "connect_timeout"
	ErrTypeTLSTimeout         = "tls_timeout"
	ErrTypeTLS                = "tls_error"
	ErrTypeStartTLSTimeout    = "starttls_timeout"
	ErrTypeStartTLSRejected   = "starttls_rejected"
	ErrTypeTimeout            = "timeout"
	ErrTypeRequest            = "request_error"
	ErrTypeHTTP               = "http_error"
	ErrTypeJSON               = "json_error"
	ErrTypeResolutionMismatch = "resolution_mismatch"
	ErrTypeNXDomain           = "nxdomain"
	ErrTypeNoAnswer           = "no_answer"
	ErrTypeAuth               = "auth_error"
	ErrTypeTemporaryFailure   = "temporary_failure"
	ErrTypeSMTP               = "smtp_error"
	ErrTypeRecipientRefused   = "recipient_refused"
	ErrTypeCertExpiry         = "cert_expiry"
	ErrTypeCertMissing        = "cert_missing"
	ErrTypeThresholdFailed    = "threshold_failed"
	ErrTypeNoRecentMessage    = "no_recent_message"
	ErrTypeTransientFailure   = "transient_failure"
	ErrTypeExecution          = "execution_error"
	ErrTypeSSH                = "ssh_error"
	ErrTypeNoReply            = "no_reply"
	ErrTypePacketLoss         = "packet_loss"
	ErrTypeUnknownCheckType   = "unknown_check_type"
	ErrTypeUnexpected         = "unexpected_error"
)

// Result is one recorded outcome of executing a check
type Result struct {
	ResultID  string         `json:"result_id" bson:"_id"`
	CheckID   int64          `json:"check_id" bson:"check_id"`
	Status    ResultStatus   `json:"status" bson:"status"`
	CreatedAt int64          `json:"created_at" bson:"created_at"`
	Data      map[string]any `json:"data" bson:"data"`
}

// NewResult builds a result with a non-nil data map
func NewResult(checkID int64, status ResultStatus, data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{CheckID: checkID, Status: status, Data: data}
}

// NewErrorResult builds an error result carrying error_type and error_msg
func NewErrorResult(checkID int64, errorType, msg string) Result {
	return NewResult(checkID, ResultStatusError, map[string]any{
		"error_type": errorType,
		"error_msg":  msg,
	})
}

// ErrorType returns the error_type recorded in the result data, if any
func (r Result) ErrorType() string {
	s, _ := r.Data["error_type"].(string)
	return s
}

// ErrorMessage returns the error_msg recorded in the result data, if any
func (r Result) ErrorMessage() string {
	s, _ := r.Data["error_msg"].(string)
	return s
}
