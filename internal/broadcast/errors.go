package broadcast

import (
	"fmt"

	kit "remindbot/internal/transport"
)

// DeliveryError records why a recipient was abandoned during a run.
type DeliveryError struct {
	ChatID string
	Repeat int // 1-based repeat that failed
	Reason kit.FailureReason
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (repeat %d, %s): %v", e.ChatID, e.Repeat, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
