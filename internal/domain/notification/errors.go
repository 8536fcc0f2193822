// internal/domain/notification/errors.go
package notification

import "fmt"

var ErrInvalidReferenceDate = fmt.Errorf("reference date is in the future")
var ErrResolutionUnavailable = fmt.Errorf("recipient resolution unavailable")
var ErrLedgerConstraintViolation = fmt.Errorf("pending notification already exists for object and type")
var ErrDispatchInProgress = fmt.Errorf("digest dispatch already in progress for this day")
var ErrObjectNotFound = fmt.Errorf("workflow object not found")
var ErrUnknownRole = fmt.Errorf("unknown role category")

// SendError describes why one recipient's digest could not be delivered.
type SendError struct {
	Address string
	Reason  string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send digest to %s: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("send digest to %s: %s", e.Address, e.Reason)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
