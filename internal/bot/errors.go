package bot

import (
	"fmt"

	"github.com/zulandar/qotd/internal/config"
)

var (
	// ErrNoEligibleRecipients is returned when the source channel has no
	// members left after exclusion. It matches config.ErrInvalid.
	ErrNoEligibleRecipients = fmt.Errorf("%w: no eligible recipients", config.ErrInvalid)

	// ErrEmptyQuestionBank is returned when there are no questions to ask.
	// It matches config.ErrInvalid.
	ErrEmptyQuestionBank = fmt.Errorf("%w: question bank is empty", config.ErrInvalid)
)

// Delivery steps.
const (
	StepOpen = "open_dm"
	StepPost = "post"
	StepSave = "save"
)

// DeliveryError reports a failure to ask one recipient. Other recipients
// in the same round are unaffected.
type DeliveryError struct {
	User string
	Step string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %s: %v", e.User, e.Step, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TransientError reports a reply lookup or publish failure for one pending
// entry. The entry stays pending and is retried on the next collect.
type TransientError struct {
	User   string
	Anchor string
	Op     string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s for %s (anchor %s): %v", e.Op, e.User, e.Anchor, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
