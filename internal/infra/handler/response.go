package handler

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errServiceUnavailable = errors.New("service unavailable")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := "internal error"
	if status < 500 && err != nil {
		message = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": message})
}
