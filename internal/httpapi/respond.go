package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"civicai.org/internal/auth"
	"civicai.org/internal/obs"
)

const realm = `Bearer realm="civicai"`

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", realm)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func forbidden(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", realm+`, error="insufficient_scope"`)
	writeError(w, r, http.StatusForbidden, msg)
}

// handleError is the single place where service errors become HTTP statuses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		unauthorized(w, r, publicMessage(err, auth.ErrUnauthenticated, "authentication required"))
	case errors.Is(err, auth.ErrForbidden):
		forbidden(w, r, publicMessage(err, auth.ErrForbidden, "forbidden"))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err, auth.ErrInvalidInput, "invalid input"))
	case errors.Is(err, auth.ErrConflict), errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, r, http.StatusConflict, publicMessage(err, auth.ErrConflict, "conflict"))
	default:
		obs.Error("request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// publicMessage strips the sentinel prefix, leaving the detail added by the service.
func publicMessage(err, sentinel error, fallback string) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error())
	msg = strings.TrimSpace(strings.TrimPrefix(msg, ":"))
	if msg == "" {
		return fallback
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
