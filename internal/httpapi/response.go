package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope of every JSON response.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Response{Status: "ok", Timestamp: time.Now().UTC(), Data: data})
}

func fail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Response{Status: "error", Timestamp: time.Now().UTC(), Error: err.Error()})
}
