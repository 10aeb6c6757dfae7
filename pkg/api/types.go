package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/muninndb/muninn/pkg/store"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RecordResponse is the wire form of one stored record. The payload is
// base64 per encoding/json's []byte handling; dumps may additionally be
// compressed at the source.
type RecordResponse struct {
	Type       string     `json:"type"`
	Instance   int        `json:"instance"`
	Time       *time.Time `json:"time,omitempty"`
	Compressed bool       `json:"compressed,omitempty"`
	Payload    []byte     `json:"payload"`
	Notice     string     `json:"notice,omitempty"`
}

// RecordsResponse carries one full session scan.
type RecordsResponse struct {
	Session string           `json:"session"`
	Records []RecordResponse `json:"records"`
}

// RecordStore is the slice of the store the server reads from.
type RecordStore interface {
	OpenSession() (string, error)
	CloseSession() error
	Read() (*store.Record, error)
	Report() []store.ZoneReport
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind string
	Port int

	// Gatherer backs /metrics; nil falls back to the default registry.
	Gatherer prometheus.Gatherer

	Logger log.Logger
}

// sendSuccess sends a success JSON response
func sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	response := APIResponse{
		Success: true,
		Data:    data,
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// sendError sends an error JSON response
func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
	}
	_ = json.NewEncoder(w).Encode(response)
}
