package session

import (
	"encoding/json"
	"errors"

	"github.com/toncenter/nano-wallet-gateway/guard"
	"github.com/toncenter/nano-wallet-gateway/models"
	"github.com/toncenter/nano-wallet-gateway/rpc"
)

var (
	ErrActionNotAllowed = errors.New("rpc command not allowed")
	ErrInvalidAccount   = errors.New("Invalid account")
	ErrAlreadyActive    = errors.New("already active")
	ErrUnknownCurrency  = errors.New("unknown currency")
	ErrSubscribe        = errors.New("subscribe error")
	ErrReconnect        = errors.New("reconnect error")
	ErrGeneral          = errors.New("general error")
)

// replied errors are sent with their own text and no detail
var plainErrors = []error{
	ErrActionNotAllowed,
	ErrInvalidAccount,
	ErrAlreadyActive,
	ErrUnknownCurrency,
	rpc.ErrWorkAlreadyRequested,
	guard.ErrReceiveRace,
	guard.ErrWorkGeneration,
}

// failure tags a cause with the error text the client sees.
type failure struct {
	kind  error
	cause error
}

func fail(kind, cause error) error {
	return &failure{kind: kind, cause: cause}
}

func (f *failure) Error() string {
	if f.cause == nil {
		return f.kind.Error()
	}
	return f.kind.Error() + ": " + f.cause.Error()
}

func (f *failure) Is(target error) bool {
	return target == f.kind
}

func (f *failure) Unwrap() error {
	return f.cause
}

// errorResponse maps err onto the wire error. fault is the action specific
// label used for unexpected errors.
func errorResponse(err error, fault string, requestID json.RawMessage) models.ErrorResponse {
	resp := models.ErrorResponse{RequestId: requestID}
	var f *failure
	if errors.As(err, &f) {
		resp.Error = f.kind.Error()
		if f.cause != nil {
			resp.Detail = f.cause.Error()
		}
		return resp
	}
	for _, known := range plainErrors {
		if errors.Is(err, known) {
			resp.Error = known.Error()
			return resp
		}
	}
	var workErr *rpc.WorkError
	if errors.As(err, &workErr) {
		resp.Error = workErr.Error()
		return resp
	}
	if fault == "" {
		fault = ErrGeneral.Error()
	}
	resp.Error = fault
	resp.Detail = err.Error()
	return resp
}
