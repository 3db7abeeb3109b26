package httpserver

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError names one failing request field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating one request.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func invalid(field, code, message string) ValidationResult {
	return ValidationResult{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

var validEntityID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateEntityID checks a candidate, job or match id path parameter.
func ValidateEntityID(field, id string) ValidationResult {
	switch {
	case id == "":
		return invalid(field, "REQUIRED", field+" is required")
	case len(id) > 100:
		return invalid(field, "TOO_LONG", field+" is too long (max 100 characters)")
	case !validEntityID.MatchString(id):
		return invalid(field, "INVALID_FORMAT", field+" contains invalid characters")
	}
	return ValidationResult{Valid: true}
}

var validate = validator.New()

// ValidateFeedback checks a feedback value against the closed verdict set.
func ValidateFeedback(feedback string) ValidationResult {
	if feedback == "" {
		return invalid("feedback", "REQUIRED", "feedback is required")
	}
	if err := validate.Var(feedback,
		"oneof=good bad_distance bad_skills bad_seniority maybe vorstellen spaeter ablehnen"); err != nil {
		return invalid("feedback", "INVALID_VALUE", "feedback is not a known verdict value")
	}
	return ValidationResult{Valid: true}
}

// ValidateStruct runs the tag-based rules on a decoded request body.
func ValidateStruct(req any) ValidationResult {
	err := validate.Struct(req)
	if err == nil {
		return ValidationResult{Valid: true}
	}
	var res ValidationResult
	var ferrs validator.ValidationErrors
	if !errors.As(err, &ferrs) {
		return invalid("body", "INVALID", "request body failed validation")
	}
	for _, fe := range ferrs {
		res.Errors = append(res.Errors, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Code:    strings.ToUpper(fe.Tag()),
			Message: fe.Field() + " failed rule " + fe.Tag(),
		})
	}
	return res
}
