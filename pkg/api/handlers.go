package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/muninndb/muninn/pkg/store"
)

// Server holds the API server state
type Server struct {
	store  RecordStore
	config ServerConfig
	logger log.Logger
}

// NewServer creates a new API server
func NewServer(st RecordStore, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{
		store:  st,
		config: config,
		logger: logger,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleRecords runs one full read session and returns every surviving
// record. The session bracket is exclusive, so concurrent scans get a 409.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.OpenSession()
	if err != nil {
		if errors.Is(err, store.ErrSessionActive) {
			sendError(w, "a read session is already open", http.StatusConflict)
			return
		}
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := s.store.CloseSession(); err != nil {
			level.Warn(s.logger).Log("msg", "closing read session", "err", err)
		}
	}()

	resp := RecordsResponse{Session: session, Records: []RecordResponse{}}
	for {
		rec, err := s.store.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			sendError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		rr := RecordResponse{
			Type:       rec.Type.String(),
			Instance:   rec.Instance,
			Compressed: rec.Compressed,
			Payload:    rec.Payload,
			Notice:     rec.Notice,
		}
		if !rec.Time.IsZero() {
			ts := rec.Time
			rr.Time = &ts
		}
		resp.Records = append(resp.Records, rr)
	}
	sendSuccess(w, resp)
}

// handleReport returns the per-zone occupancy and redundancy state.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, s.store.Report())
}
