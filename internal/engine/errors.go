package engine

import "fmt"

// Error codes, grouped by the failure taxonomy: configuration errors
// fail fast before any stream opens, capability errors name the
// provider and the missing slot, streaming and persistence errors abort
// the run.
const (
	CodeUnknownProvider      = "E_UNKNOWN_PROVIDER"
	CodeNoIntegration        = "E_NO_INTEGRATION"
	CodeInvalidConfig        = "E_INVALID_CONFIG"
	CodeInvalidSettings      = "E_INVALID_SETTINGS"
	CodeInvalidConnectOutput = "E_INVALID_CONNECT_OUTPUT"
	CodeInvalidWebhook       = "E_INVALID_WEBHOOK"
	CodeInvalidPipeline      = "E_INVALID_PIPELINE"
	CodeNotASource           = "E_NOT_A_SOURCE"
	CodeNotADestination      = "E_NOT_A_DESTINATION"
)

// Error carries enough context — provider name, entity id — to diagnose
// a failure without re-reading logs.
type Error struct {
	Code     string
	Provider string
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Provider != "" {
		msg += " provider=" + e.Provider
	}
	if e.EntityID != "" {
		msg += " entity=" + e.EntityID
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, providerName, entityID string, err error) *Error {
	return &Error{Code: code, Provider: providerName, EntityID: entityID, Err: err}
}
