package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/command"
	"github.com/devshojol/HC-06-Controller/internal/linebuf"
	"github.com/devshojol/HC-06-Controller/internal/session"
)

// maxLinesWait bounds the long poll on /api/lines.
const maxLinesWait = 30 * time.Second

var errBadCommand = errors.New("request needs one of command, speed or text")

// commandRequest is the body of /api/command and of WebSocket client frames.
type commandRequest struct {
	Command string `json:"command,omitempty"` // Token, e.g. "FORWARD" or "SPEED:70"
	Speed   *int   `json:"speed,omitempty"`
	Text    string `json:"text,omitempty"` // Sent as-is after trimming
}

type statusResponse struct {
	Status     session.Status `json:"status"`
	Devices    []bt.Device    `json:"devices"`
	Authorized bool           `json:"authorized"`
	Logging    bool           `json:"logging"`
}

type linesResponse struct {
	Lines []linebuf.Line `json:"lines"`
	Next  uint64         `json:"next"`
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, n session.Notice) {
	jsonResponse(w, status, map[string]interface{}{
		"error":   n.Title,
		"message": n.Message,
		"code":    status,
	})
}

func successResponse(w http.ResponseWriter) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps a session or command error to its status code and notice.
func fail(w http.ResponseWriter, err error) {
	errorResponse(w, statusFor(err), session.Describe(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEnumeration):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, session.ErrConnection), errors.Is(err, session.ErrWrite):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrDisconnect):
		return http.StatusInternalServerError
	}
	// Malformed commands
	return http.StatusBadRequest
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.manager.Status().State.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.Devices()
	jsonResponse(w, http.StatusOK, statusResponse{
		Status:     s.manager.Status(),
		Devices:    devices,
		Authorized: s.registry.Authorized(),
		Logging:    s.traffic.IsEnabled(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.registry.Devices())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListPaired(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	s.broadcast(Frame{Devices: devices, Stamp: time.Now().UnixMilli()})
	jsonResponse(w, http.StatusOK, devices)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		errorResponse(w, http.StatusBadRequest, session.Notice{Title: "Bad request", Message: "address is required"})
		return
	}
	dev, ok := s.registry.Lookup(req.Address)
	if !ok {
		errorResponse(w, http.StatusNotFound, session.Notice{Title: "Unknown device", Message: "Scan for paired devices first."})
		return
	}

	st, err := s.manager.Connect(r.Context(), dev)
	if err != nil {
		fail(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Disconnect(); err != nil {
		fail(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, session.Notice{Title: "Bad request", Message: err.Error()})
		return
	}
	if err := s.runCommand(r.Context(), req); err != nil {
		fail(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, s.manager.Status())
}

// runCommand sends whatever req carries. A SPEED token goes through
// SetSpeed so the current speed follows it.
func (s *Server) runCommand(ctx context.Context, req commandRequest) error {
	switch {
	case req.Speed != nil:
		return s.manager.SetSpeed(ctx, *req.Speed)
	case req.Command != "":
		cmd, err := command.Parse(req.Command)
		if err != nil {
			return err
		}
		if level, ok := command.Speed(cmd); ok {
			return s.manager.SetSpeed(ctx, level)
		}
		return s.manager.Send(ctx, cmd)
	case req.Text != "":
		cmd, err := command.FreeText(req.Text)
		if err != nil {
			return err
		}
		return s.manager.Send(ctx, cmd)
	}
	return errBadCommand
}

// handleLines returns lines with Seq >= since. With wait set (a duration,
// capped at 30s) it blocks until a line arrives when none are ready.
func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since uint64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, session.Notice{Title: "Bad request", Message: "since must be a line number"})
			return
		}
		since = n
	}

	lines := s.manager.Lines()
	changed := lines.Changed()
	out, next := lines.SinceNext(since)

	if len(out) == 0 && q.Get("wait") != "" {
		wait, err := time.ParseDuration(q.Get("wait"))
		if err != nil || wait < 0 {
			errorResponse(w, http.StatusBadRequest, session.Notice{Title: "Bad request", Message: "wait must be a duration"})
			return
		}
		if wait > maxLinesWait {
			wait = maxLinesWait
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-changed:
			out, next = lines.SinceNext(since)
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}

	if out == nil {
		out = []linebuf.Line{}
	}
	jsonResponse(w, http.StatusOK, linesResponse{Lines: out, Next: next})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.cfg.ToJSON()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, session.Notice{Title: "Error", Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handlePostConfig merges a partial update and saves it. Only the logging
// switch applies immediately; the rest takes effect on restart.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, session.Notice{Title: "Bad request", Message: err.Error()})
		return
	}
	if err := s.cfg.UpdateFromJSON(body); err != nil {
		errorResponse(w, http.StatusBadRequest, session.Notice{Title: "Invalid config", Message: err.Error()})
		return
	}
	if err := s.cfg.Save(); err != nil {
		log.Printf("[config] save failed: %v", err)
	}
	s.traffic.SetEnabled(s.cfg.LoggingEnabled())
	successResponse(w)
}
