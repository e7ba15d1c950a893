package api

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

type errorResponse struct {
	Error    string `json:"error"`
	TextCode string `json:"text_code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondErr writes err as an error envelope. go-errors values keep their
// message and text code; anything else is reported as an opaque 500.
func respondErr(w http.ResponseWriter, err error) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := rich.Code
	if status == 0 {
		status = categoryStatus(rich.Category)
	}
	respondJSON(w, status, errorResponse{Error: rich.Message, TextCode: rich.TextCode})
}

func categoryStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
