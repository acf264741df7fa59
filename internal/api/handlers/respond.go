package handlers

import (
	"encoding/json"
	"net/http"

	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors to HTTP status codes. Internal errors are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errors.ErrCostLimitExceeded):
		code = http.StatusPaymentRequired
	case errors.Is(err, errors.ErrUnavailable), errors.Is(err, errors.ErrTimeout):
		code = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Errorw("Request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "decode body: %v", err)
	}
	return nil
}
