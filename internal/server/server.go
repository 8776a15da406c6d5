package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"filedrop/internal/drop"
)

const (
	// HeaderEncrypted marks an upload as encrypted by the client.
	HeaderEncrypted = "X-Encrypted"

	// HeaderSessionName carries the acting participant's display name.
	HeaderSessionName = "Session-Name"

	// DefaultUser is the acting user when HeaderSessionName is absent.
	DefaultUser = "?"

	// maxAttempts bounds how often a request is retried against a fresh
	// coordinator after racing with expiry.
	maxAttempts = 3

	fallbackAddr = "0.0.0.0"
)

// Options configures the HTTP surface.
type Options struct {
	// MaxUploadSize limits upload bodies, in bytes. Zero means no limit.
	MaxUploadSize int64

	// ClientIPHeader is a trusted proxy header holding the client address.
	ClientIPHeader string
}

// Server exposes a Hub over HTTP and WebSocket.
type Server struct {
	hub      *drop.Hub
	logger   drop.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// New creates a Server routing requests into hub.
func New(hub *drop.Hub, logger drop.Logger, opts Options) *Server {
	return &Server{
		hub:    hub,
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("/api/sessions/{session}/{rest...}", s.handleSession)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /{session}", s.handleRoot)
	mux.HandleFunc("/", s.handleNotFound)
	return mux
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.hub.CreateSession()
	if err != nil {
		s.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	s.logger.Info("session created", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"session": id})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusServiceUnavailable, errors.New("only /api/* is served here"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, session)
		return
	}

	fileID, ok := strings.CutPrefix(r.PathValue("rest"), "files/")
	if !ok || fileID == "" {
		s.handleNotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetFile(w, r, session, fileID)
	case http.MethodPost:
		s.handleUploadFile(w, r, session, fileID)
	case http.MethodDelete:
		s.handleDeleteFile(w, r, session, fileID)
	default:
		s.handleNotFound(w, r)
	}
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, session, fileID string) {
	var blob *drop.Blob
	err := s.withCoordinator(session, func(c *drop.Coordinator) error {
		var err error
		blob, err = c.Get(r.Context(), fileID)
		return err
	})
	if err != nil {
		s.writeDropError(w, "reading file", err)
		return
	}
	defer blob.Body.Close()

	h := w.Header()
	if blob.ContentType != "" {
		h.Set("Content-Type", blob.ContentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	if blob.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	}
	if blob.ETag != "" {
		h.Set("ETag", quoteETag(blob.ETag))
	}
	if !blob.LastModified.IsZero() {
		h.Set("Last-Modified", blob.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, blob.Body); err != nil {
		s.logger.Warn("streaming file", "session", session, "file", fileID, "error", err)
	}
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, session, fileID string) {
	if s.opts.MaxUploadSize > 0 {
		if r.ContentLength > s.opts.MaxUploadSize {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	}
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	encrypted := r.Header.Get(HeaderEncrypted) == "true"
	user := actingUser(r)

	var id string
	err := s.withCoordinator(session, func(c *drop.Coordinator) error {
		var err error
		id, err = c.Upload(r.Context(), fileID, r.Body, contentType, encrypted, user)
		return err
	})
	if err != nil {
		s.writeDropError(w, "uploading file", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, session, fileID string) {
	user := actingUser(r)
	err := s.withCoordinator(session, func(c *drop.Coordinator) error {
		return c.Delete(r.Context(), fileID, user)
	})
	if err != nil {
		s.writeDropError(w, "deleting file", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File Deleted"})
}

// withCoordinator runs fn against the session's coordinator, retrying with a
// freshly resolved one when fn raced with expiry.
func (s *Server) withCoordinator(session string, fn func(*drop.Coordinator) error) error {
	for range maxAttempts {
		err := fn(s.hub.Lookup(session))
		if !errors.Is(err, drop.ErrSessionExpired) {
			return err
		}
	}
	return drop.ErrSessionExpired
}

func (s *Server) writeDropError(w http.ResponseWriter, action string, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
	case drop.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, drop.ErrFileNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, drop.ErrSessionExpired):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled):
		s.logger.Debug(action+" canceled", "error", err)
	default:
		s.logger.Error(action, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

// clientAddr returns the participant's origin address: the trusted proxy
// header, then the first X-Forwarded-For hop, then the socket peer.
func (s *Server) clientAddr(r *http.Request) string {
	if s.opts.ClientIPHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(s.opts.ClientIPHeader)); v != "" {
			return v
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if v := strings.TrimSpace(first); v != "" {
			return v
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return fallbackAddr
}

func actingUser(r *http.Request) string {
	if user := r.Header.Get(HeaderSessionName); user != "" {
		return user
	}
	return DefaultUser
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return strconv.Quote(etag)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
