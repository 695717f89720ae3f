package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tep-monitor/tep-monitor/monitor"
)

// Version is reported in every success envelope's meta block.
const Version = "1.0.0"

// meta accompanies every success payload.
type meta struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Version       string    `json:"version"`
}

type successEnvelope struct {
	Data any  `json:"data"`
	Meta meta `json:"meta"`
}

type errorEnvelope struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := successEnvelope{
		Data: data,
		Meta: meta{
			Timestamp:     time.Now().UTC(),
			CorrelationID: uuid.NewString(),
			Version:       Version,
		},
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logrus.Errorf("api: writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := errorEnvelope{
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: uuid.NewString(),
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logrus.Errorf("api: writing error response: %v", err)
	}
}

// writeDomainError maps a component error onto the HTTP error envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	var input *monitor.InputError
	if errors.As(err, &input) {
		status := http.StatusBadRequest
		if input.Code == "invalid_transition" {
			status = http.StatusConflict
		}
		writeError(w, status, input.Code, input.Message, nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

// decodeBody parses a JSON request body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body", err.Error())
		return false
	}
	return true
}
