package handler

import (
	"errors"
	"net/http"
	"sort"

	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// validate rejects a request body with a 400 listing the failing fields.
func validate(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	err := v.Validate()
	if err == nil {
		return true
	}
	RespondError(w, r, http.StatusBadRequest, "request/validation", err.Error(),
		problem.WithInvalidParams(invalidParams(err)...))
	return false
}

func invalidParams(err error) []problem.InvalidParam {
	var fields validation.Errors
	if !errors.As(err, &fields) {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]problem.InvalidParam, 0, len(names))
	for _, name := range names {
		params = append(params, problem.InvalidParam{Name: name, Reason: fields[name].Error()})
	}
	return params
}
