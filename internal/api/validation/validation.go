package validation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apierrors "github.com/krasl809/JANDALISYS-sub003/internal/api/errors"
)

// Validator defines the interface for request validation
type Validator interface {
	Validate() error
}

// ParseAndValidate parses a JSON request body and validates it
func ParseAndValidate(r *http.Request, v Validator) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.ValidationError("empty_request_body", "Request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierrors.ValidationError("request_too_large",
				"Request body must be at most "+strconv.FormatInt(maxErr.Limit, 10)+" bytes")
		}
		return apierrors.ValidationError("invalid_json", "Invalid JSON format: "+err.Error())
	}

	return v.Validate()
}

// MaxLength validates that a string is not longer than the specified max length
func MaxLength(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return apierrors.ValidationError(
			"max_length_exceeded",
			field+" must be at most "+strconv.Itoa(maxLen)+" characters",
		)
	}
	return nil
}

// Required validates that a string is not empty
func Required(field, value string) error {
	if value == "" {
		return apierrors.ValidationError(
			"required_field_missing",
			field+" is required",
		)
	}
	return nil
}

// QueryInt parses an optional integer query parameter within [min, max].
// An absent parameter yields def.
func QueryInt(r *http.Request, field string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(field)
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierrors.ValidationError("invalid_query_parameter", field+" must be an integer")
	}
	if value < min || value > max {
		return 0, apierrors.ValidationError(
			"invalid_query_parameter",
			field+" must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max),
		)
	}
	return value, nil
}
