package types

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance. gin binding and the session
// service both use the same tag set.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks in against its struct tags and converts the first failure into a
// ValidationError with a readable message.
func (in *CreateSessionInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if err := Validator().Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return NewValidationError(describeFieldError(verrs[0]))
		}
		return NewValidationError("Invalid session payload")
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	// dive failures name the element, e.g. "ParticipantIDs[0]".
	field, _, _ := strings.Cut(fe.StructField(), "[")
	switch field {
	case "Title":
		return "Title must be between 3 and 200 characters"
	case "DurationMinutes":
		return "Duration must be between 1 and 600 minutes"
	case "ParticipantIDs":
		if fe.Tag() == "uuid" {
			return "Participant ids must be UUIDs"
		}
		return "At least one participant is required"
	default:
		return fmt.Sprintf("Invalid value for %s", fe.Field())
	}
}

// ValidateChatText rejects blank text and enforces the configured rune bound.
// The text is returned unchanged; whitespace is part of the message.
func ValidateChatText(text string, maxRunes int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", NewValidationError(MsgTextRequired)
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		return "", NewValidationError(fmt.Sprintf("Message text must be at most %d characters", maxRunes))
	}
	return text, nil
}

// NormalizeLanguage applies the default language and bounds the tag length.
func NormalizeLanguage(lang string, maxLen int) (string, error) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return DefaultLanguage, nil
	}
	if maxLen > 0 && len(lang) > maxLen {
		return "", NewValidationError(fmt.Sprintf("Language must be at most %d characters", maxLen))
	}
	return lang, nil
}
