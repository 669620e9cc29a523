package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zsyeh/coursepilot/internal/connectors"
	"github.com/zsyeh/coursepilot/internal/models"
)

// Sentinel errors for orchestrator operations.
var (
	ErrNoAICourseSupport = errors.New("course client cannot run AI courses")
	ErrMissingAICourse   = errors.New("AI course and class ids are required")
)

// DefaultVerificationMarkers are matched case-insensitively against error
// text to detect human-verification challenges.
var DefaultVerificationMarkers = []string{"captcha", "验证码"}

// TransientTaskError is a per-item failure that does not need a human. The
// item stays unresolved and the run continues.
type TransientTaskError struct {
	Item models.WorkItem
	Err  error
}

func (e *TransientTaskError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Item.Kind, e.Item.ID, e.Err)
}

func (e *TransientTaskError) Unwrap() error { return e.Err }

// VerificationRequiredError is a per-item failure that needs a human to pass
// a platform challenge before the item can proceed.
type VerificationRequiredError struct {
	Item models.WorkItem
	Err  error
}

func (e *VerificationRequiredError) Error() string {
	return fmt.Sprintf("%s %s requires verification: %v", e.Item.Kind, e.Item.ID, e.Err)
}

func (e *VerificationRequiredError) Unwrap() error { return e.Err }

// Classifier sorts completion errors into the task error taxonomy.
type Classifier struct {
	markers []string
}

// NewClassifier creates a classifier using the default markers plus extra.
func NewClassifier(extra ...string) *Classifier {
	markers := make([]string, 0, len(DefaultVerificationMarkers)+len(extra))
	for _, m := range append(append([]string{}, DefaultVerificationMarkers...), extra...) {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Classifier{markers: markers}
}

// IsVerification reports whether err signals a human-verification challenge.
func (c *Classifier) IsVerification(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, connectors.ErrVerificationRequired) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, m := range c.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Classify wraps err for item as a VerificationRequiredError or a
// TransientTaskError. A nil err stays nil.
func (c *Classifier) Classify(item models.WorkItem, err error) error {
	if err == nil {
		return nil
	}
	if c.IsVerification(err) {
		return &VerificationRequiredError{Item: item, Err: err}
	}
	return &TransientTaskError{Item: item, Err: err}
}
