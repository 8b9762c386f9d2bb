package flow

import (
	"net/mail"
	"strings"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// ValidationResult is the outcome of the gate a user input passes through
// before it can bind to a field or advance the flow.
type ValidationResult struct {
	OK      bool
	Message string
}

func accepted() ValidationResult { return ValidationResult{OK: true} }

func rejected(stepMsg, fallback string) ValidationResult {
	if stepMsg != "" {
		return ValidationResult{Message: stepMsg}
	}
	return ValidationResult{Message: fallback}
}

// validateInput runs the step's validation gate over raw input. A custom
// validator on the step replaces the default for its input kind. Optional
// steps accept empty input without consulting any validator.
func validateInput(step StepSpec, raw string) ValidationResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" && step.Optional {
		return accepted()
	}
	if len(raw) > models.MaxInputLength && step.Input != models.InputImage {
		return rejected(step.ErrorMessage, "That message is a little too long. Could you shorten it?")
	}
	if step.Validate != nil {
		if step.Validate(raw) {
			return accepted()
		}
		return rejected(step.ErrorMessage, "Sorry, I didn't catch that. Could you try again?")
	}
	switch step.Input {
	case models.InputShortText, models.InputLongText:
		if trimmed == "" {
			return rejected(step.ErrorMessage, "Could you type a quick answer so we can continue?")
		}
	case models.InputPhone:
		if !validPhone(trimmed) {
			return rejected(step.ErrorMessage, "That doesn't look like a phone number. Please include at least 7 digits.")
		}
	case models.InputEmail:
		if !validEmail(trimmed) {
			return rejected(step.ErrorMessage, "That doesn't look like an email address. Could you check it?")
		}
	case models.InputOptionChoice:
		if !optionValueKnown(step.Options, raw) {
			return rejected(step.ErrorMessage, "Please pick one of the options above.")
		}
	case models.InputImage:
		if raw == "" {
			return rejected(step.ErrorMessage, "I didn't receive a photo. Could you try attaching it again?")
		}
	}
	return accepted()
}

// validPhone accepts loosely formatted numbers: an optional leading plus,
// digits, and common separators, with at least MinPhoneDigits digits overall.
func validPhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= models.MinPhoneDigits
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func optionValueKnown(options []models.StepOption, value string) bool {
	for _, opt := range options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// labelFor returns the display label for an option value, falling back to the
// value itself when the option is unknown.
func labelFor(options []models.StepOption, value string) string {
	for _, opt := range options {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}
