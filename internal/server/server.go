package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/rcowellai/old-recording-app/internal/service"
	"github.com/rcowellai/old-recording-app/internal/store"
)

// Server exposes the recording session to a web or remote UI.
type Server struct {
	service service.Service
	host    string
	port    int
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SaveResponse carries the identifier of a freshly saved recording.
type SaveResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// RecordingsResponse represents the JSON response for the library endpoint
type RecordingsResponse struct {
	Recordings []store.Recording `json:"recordings"`
	TotalCount int               `json:"total_count"`
}

// New creates a new web server instance over the given service.
func New(svc service.Service, host string, port int) *Server {
	return &Server{
		service: svc,
		host:    host,
		port:    port,
	}
}

// Handler builds the route table. Split from Start so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/request", s.handleRequest)
	mux.HandleFunc("/api/begin", s.handleBegin)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/done", s.handleDone)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/download/", s.handleDownload)
	mux.HandleFunc("/api/recordings/delete/", s.handleDelete)
	return mux
}

// Start starts the web server and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	slog.Info("Starting recorder web server",
		"addr", addr,
		"url", fmt.Sprintf("http://%s/api/status", addr))
	return http.ListenAndServe(addr, s.Handler())
}

// handleRequest acquires a device stream (IDLE -> STREAM_READY). The mode
// form value selects audio or video capture.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	mode := r.FormValue("mode")
	if mode == "" {
		mode = "audio"
	}

	var err error
	switch mode {
	case "audio":
		err = s.service.RequestAudio(r.Context())
	case "video":
		err = s.service.RequestVideo(r.Context())
	default:
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Unknown mode %q, expected audio or video", mode))
		return
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to acquire %s stream: %v", mode, err))
		return
	}

	s.sendSuccess(w, fmt.Sprintf("%s stream ready", mode))
}

// handleBegin starts the countdown into a recording.
func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.service.Begin(); err != nil {
		s.sendError(w, http.StatusConflict, fmt.Sprintf("Failed to begin recording: %v", err))
		return
	}
	s.sendSuccess(w, "Countdown started")
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.service.Pause(); err != nil {
		s.sendError(w, http.StatusConflict, fmt.Sprintf("Failed to pause: %v", err))
		return
	}
	s.sendSuccess(w, "Recording paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.service.Resume(); err != nil {
		s.sendError(w, http.StatusConflict, fmt.Sprintf("Failed to resume: %v", err))
		return
	}
	s.sendSuccess(w, "Countdown started")
}

// handleDone stops the recording and assembles the artifact.
func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.service.Done(); err != nil {
		s.sendError(w, http.StatusConflict, fmt.Sprintf("Failed to finish recording: %v", err))
		return
	}
	s.sendSuccess(w, "Recording finished")
}

// handleReset discards the session and returns to idle.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.service.Reset()
	s.sendSuccess(w, "Session reset")
}

// handleSave persists the finished artifact and returns its identifier.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = "untitled"
	}

	id, err := s.service.SaveLast(name, nil)
	if err != nil {
		s.sendError(w, http.StatusConflict, fmt.Sprintf("Failed to save recording: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SaveResponse{Success: true, ID: id})
}

// handleStatus returns the current session snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.service.Status())
}

// handleRecordings returns the saved library, newest first.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}
	if recordings == nil {
		recordings = []store.Recording{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RecordingsResponse{
		Recordings: recordings,
		TotalCount: len(recordings),
	})
}

// handleDownload serves a saved recording for download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/recordings/download/")
	if id == "" {
		http.Error(w, "Recording identifier required", http.StatusBadRequest)
		return
	}

	rec, err := s.service.GetRecording(id)
	if err != nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(rec.Path)
	if err != nil {
		http.Error(w, "Error opening recording", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Error accessing recording", http.StatusInternalServerError)
		return
	}

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", rec.ID+"."+store.ExtensionForMime(rec.MimeType)))

	http.ServeContent(w, r, rec.ID, info.ModTime(), f)
}

// handleDelete removes a saved recording.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/recordings/delete/")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "Recording identifier required")
		return
	}

	if err := s.service.DeleteRecording(id); err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Failed to delete recording: %v", err))
		return
	}
	s.sendSuccess(w, "Recording deleted")
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(GenericResponse{
			Success: false,
			Error:   "Method not allowed",
		})
		return false
	}
	return true
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GenericResponse{
		Success: true,
		Message: message,
	})
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	slog.Error("Request failed", "status", status, "error", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(GenericResponse{
		Success: false,
		Error:   message,
	})
}
