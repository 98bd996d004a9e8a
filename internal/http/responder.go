package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"db_respawn/internal/reset"
	"db_respawn/internal/targets"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeResetError maps reset and target errors to a status and error code.
func writeResetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, targets.ErrUnknownTarget):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, reset.ErrNoTablesFound):
		writeError(w, http.StatusUnprocessableEntity, "no_tables", err.Error())
	case errors.Is(err, reset.ErrUnsupportedCapability):
		writeError(w, http.StatusBadRequest, "unsupported_capability", err.Error())
	case errors.Is(err, reset.ErrConfiguration):
		writeError(w, http.StatusBadRequest, "invalid_configuration", err.Error())
	case errors.Is(err, reset.ErrExecution):
		writeError(w, http.StatusInternalServerError, "execution_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
