// Package server hosts sessions over HTTP and WebSocket.
//
// Routes:
//
//	POST   /sessions           create a session from {"width","height","title","background"}
//	GET    /sessions           list sessions
//	GET    /sessions/{id}      describe one session
//	DELETE /sessions/{id}      close a session and drop its archive
//	GET    /sessions/{id}/ws   join over WebSocket; ?name= sets the display name
//
// A WebSocket client must offer the subprotocol paintnet.Subprotocol().
// On the WebSocket every binary message carries exactly one marshaled
// protocol message in each direction. Rejection notices are sent as text
// messages holding a JSON object. The connection is closed with a policy
// violation when the participant is kicked or falls too far behind, and
// with going-away when its session is deleted.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/gogpu/paintnet"
	"github.com/gogpu/paintnet/internal/blend"
	"github.com/gogpu/paintnet/protocol"
	"github.com/gogpu/paintnet/session"
	"github.com/gogpu/paintnet/state"
	"github.com/gogpu/paintnet/store"
)

// Server errors.
var (
	// ErrBadSize is returned for a canvas size outside 1..MaxSize.
	ErrBadSize = errors.New("server: invalid canvas size")

	// ErrProtocolVersion is returned to a WebSocket client that does not
	// offer the subprotocol of paintnet.ProtocolVersion.
	ErrProtocolVersion = errors.New("server: unsupported protocol version")
)

// Server owns the live sessions.
type Server struct {
	cfg      Config
	router   *mux.Router
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New creates a server.
func New(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = paintnet.Logger()
	}

	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{paintnet.Subprotocol()},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:      cfg.Logger,
		sessions: make(map[string]*session.Session),
	}

	r := mux.NewRouter()
	r.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/ws", s.handleJoin).Methods(http.MethodGet)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) trackerOptions() []state.Option {
	return []state.Option{
		state.WithMaxHistory(s.cfg.HistorySize),
		state.WithHistoryFactor(s.cfg.HistoryFactor),
	}
}

func (s *Server) sessionOptions() []session.Option {
	opts := []session.Option{session.WithTrackerOptions(s.trackerOptions()...)}
	if s.cfg.Store != nil {
		opts = append(opts, session.WithSink(s.cfg.Store))
	}
	for _, sink := range s.cfg.Sinks {
		opts = append(opts, session.WithSink(sink))
	}
	return opts
}

// CreateSession starts a new session and returns its id.
func (s *Server) CreateSession(width, height int, title string, background uint32) (string, error) {
	if width < 1 || height < 1 || width > s.cfg.MaxSize || height > s.cfg.MaxSize {
		return "", fmt.Errorf("%w: %dx%d", ErrBadSize, width, height)
	}
	id := uuid.NewString()
	initial := session.InitSequence(width, height, title, background)

	if s.cfg.Store != nil {
		meta := store.Meta{ID: id, Title: title, Width: width, Height: height, Created: time.Now().UTC()}
		if err := s.cfg.Store.Create(meta, initial); err != nil {
			return "", err
		}
	}

	sess := session.New(id, initial, s.sessionOptions()...)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.log.Info("server: session created", "session", id, "width", width, "height", height)
	return id, nil
}

// Restore starts every session archived in the store. An archive that
// outgrew the history cap is first compacted to a snapshot.
func (s *Server) Restore() error {
	if s.cfg.Store == nil {
		return nil
	}
	metas, err := s.cfg.Store.Sessions()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		msgs, initSize, err := s.loadArchive(meta)
		if err != nil {
			return err
		}
		opts := append(s.sessionOptions(), session.WithArchive(initSize))
		sess := session.New(meta.ID, msgs, opts...)
		s.mu.Lock()
		s.sessions[meta.ID] = sess
		s.mu.Unlock()
		s.log.Info("server: session restored", "session", meta.ID, "messages", len(msgs))
	}
	return nil
}

// loadArchive returns the messages to start an archived session from and
// the size of their initialization sequence. When replaying the whole log
// would trim the history, the log is replaced by a snapshot of its end
// state.
func (s *Server) loadArchive(meta store.Meta) ([]protocol.Message, int, error) {
	_, msgs, err := s.cfg.Store.Load(meta.ID)
	if err != nil {
		return nil, 0, err
	}
	initSize := meta.InitSize
	if initSize == 0 {
		initSize = protocol.Size(session.InitSequence(meta.Width, meta.Height, meta.Title, 0))
	}

	replay := state.NewTracker(s.trackerOptions()...)
	replay.Restore(initSize, msgs)
	if replay.HistoryStart() == 0 {
		return msgs, initSize, nil
	}
	snap := replay.GenerateSnapshot(false)
	if err := s.cfg.Store.Compact(meta.ID, snap); err != nil {
		return nil, 0, err
	}
	s.log.Info("server: archive compacted", "session", meta.ID, "from", len(msgs), "to", len(snap))
	return snap, protocol.Size(snap), nil
}

// Session returns a live session, or nil.
func (s *Server) Session(id string) *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// Close stops every session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

type createRequest struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Title      string `json:"title"`
	Background string `json:"background"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	bg := uint32(0xFFFFFFFF)
	if req.Background != "" {
		var err error
		if bg, err = parseColor(req.Background); err != nil {
			httpError(w, http.StatusBadRequest, err)
			return
		}
	}

	id, err := s.CreateSession(req.Width, req.Height, req.Title, bg)
	switch {
	case errors.Is(err, ErrBadSize):
		httpError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.log.Error("server: create session", "err", err)
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		info, err := sess.Info(r.Context())
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b session.Info) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess := s.Session(mux.Vars(r)["id"])
	if sess == nil {
		httpError(w, http.StatusNotFound, session.ErrStopped)
		return
	}
	info, err := sess.Info(r.Context())
	if err != nil {
		httpError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if sess == nil {
		httpError(w, http.StatusNotFound, session.ErrStopped)
		return
	}
	sess.Close()
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Delete(id); err != nil && !errors.Is(err, store.ErrNoSession) {
			s.log.Error("server: delete archive", "session", id, "err", err)
		}
	}
	s.log.Info("server: session deleted", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sess := s.Session(mux.Vars(r)["id"])
	if sess == nil {
		httpError(w, http.StatusNotFound, session.ErrStopped)
		return
	}
	if !slices.Contains(websocket.Subprotocols(r), paintnet.Subprotocol()) {
		httpError(w, http.StatusBadRequest, fmt.Errorf("%w: want %s", ErrProtocolVersion, paintnet.Subprotocol()))
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("server: upgrade failed", "err", err)
		return
	}
	c := newConn(ws, s.cfg, s.log.With("session", sess.ID(), "remote", r.RemoteAddr))
	c.serve(r.Context(), sess, r.URL.Query().Get("name"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseColor parses "#RRGGBB" or "#AARRGGBB" into premultiplied ARGB.
func parseColor(s string) (uint32, error) {
	hex := strings.TrimPrefix(s, "#")
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || (len(hex) != 6 && len(hex) != 8) {
		return 0, fmt.Errorf("server: invalid color %q", s)
	}
	v := uint32(n)
	if len(hex) == 6 {
		v |= 0xFF000000
	}
	return blend.Premultiply(v), nil
}
