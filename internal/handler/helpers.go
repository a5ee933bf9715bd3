package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/server/middleware"
)

// MinPasswordLength is the shortest password accepted by sign-up and
// change-password.
const MinPasswordLength = 8

const passwordSymbols = "#?!@$%^&*-"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("strong_password", func(fl validator.FieldLevel) bool {
		return StrongPassword(fl.Field().String())
	})
	return v
}

// StrongPassword reports whether s has at least MinPasswordLength characters
// including an upper-case letter, a lower-case letter, a digit and one of
// #?!@$%^&*-.
func StrongPassword(s string) bool {
	if len([]rune(s)) < MinPasswordLength {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Status:  code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeFailure renders err. Auth taxonomy errors carry their own code and
// status; anything else becomes a 500 with the fallback message.
func writeFailure(w http.ResponseWriter, err error, fallback string, ctx ...map[string]interface{}) {
	var ae *autherr.Error
	if errors.As(err, &ae) && ae.Kind != autherr.KindInternalAuthFailure {
		middleware.WriteError(w, err, ctx...)
		return
	}
	writeError(w, http.StatusInternalServerError, fallback)
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeBody reads and validates the request body into v. On failure it
// writes a 400 and returns false. Validation failures list each offending
// field with the rule it broke.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := readJSON(r, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return false
		}
		fields := make(map[string]interface{}, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeError(w, http.StatusBadRequest, "Validation failed", map[string]interface{}{
			"fields": fields,
		})
		return false
	}
	return true
}
