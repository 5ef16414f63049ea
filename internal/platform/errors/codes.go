// Package errors provides structured error handling for the engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Turn resolution errors
	CodeLeaseHeld      Code = "TURN_LEASE_HELD"
	CodeLeaseLost      Code = "TURN_LEASE_LOST"
	CodeCASConflict    Code = "CAMPAIGN_ROW_VERSION_CONFLICT"
	CodeBadModelOutput Code = "COMPLETION_OUTPUT_INVALID"
	CodePortFailure    Code = "CAPABILITY_PORT_FAILURE"

	// Rewind errors
	CodeNoSnapshot Code = "REWIND_SNAPSHOT_MISSING"

	// Input validation errors
	CodeCampaignIDEmpty        Code = "CAMPAIGN_ID_EMPTY"
	CodeCampaignNameEmpty      Code = "CAMPAIGN_NAME_EMPTY"
	CodeCampaignNamespaceEmpty Code = "CAMPAIGN_NAMESPACE_EMPTY"
	CodeActorIDEmpty           Code = "ACTOR_ID_EMPTY"
	CodeActionEmpty            Code = "TURN_ACTION_EMPTY"

	// Timer errors
	CodeTimerEventTextEmpty   Code = "TIMER_EVENT_TEXT_EMPTY"
	CodeTimerInvalidStatus    Code = "TIMER_INVALID_STATUS"
	CodeTimerInvalidTransition Code = "TIMER_INVALID_TRANSITION"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCampaignIDEmpty,
		CodeCampaignNameEmpty,
		CodeCampaignNamespaceEmpty,
		CodeActorIDEmpty,
		CodeActionEmpty,
		CodeTimerEventTextEmpty,
		CodeTimerInvalidStatus:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeLeaseHeld,
		CodeTimerInvalidTransition:
		return codes.FailedPrecondition

	// Aborted - concurrency losers that may resubmit
	case CodeLeaseLost,
		CodeCASConflict:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeNoSnapshot:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
