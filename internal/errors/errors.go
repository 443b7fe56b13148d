package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrDoseNotFound = &AppError{Code: "STORE_003", Message: "dose not found"}

	ErrAlertNotFound = &AppError{Code: "ALERT_001", Message: "alert not found"}

	ErrSchedulerStopped   = &AppError{Code: "SCHED_001", Message: "scheduler is stopped"}
	ErrPermissionNotGiven = &AppError{Code: "SCHED_002", Message: "notification permission not granted"}
	ErrDeliveryInFlight   = &AppError{Code: "SCHED_003", Message: "reminder delivery already in flight"}

	ErrChannelNotConfigured = &AppError{Code: "NOTIFY_001", Message: "notification channel not configured"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
