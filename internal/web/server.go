// Package web provides an HTTP status and pin-control server for the
// gpio-bridge daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sweeney/rpi-gpio/gpio"
	"github.com/sweeney/rpi-gpio/internal/status"
)

const requestTimeout = 5 * time.Second

// PinIO reads and drives channels. *gpio.Controller satisfies it.
type PinIO interface {
	Read(ctx context.Context, channel int) (bool, error)
	Write(ctx context.Context, channel int, value bool) error
}

// Server serves the status page and pin endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	pins       PinIO
}

// New creates a Server that reads state from the given tracker and
// performs live reads and writes through pins.
func New(addr string, tracker *status.Tracker, pins PinIO) *Server {
	s := &Server{tracker: tracker, pins: pins}

	router := httprouter.New()
	router.GET("/", s.handleIndex)
	router.GET("/index.html", s.handleIndex)
	router.GET("/index.json", s.handleJSON)
	router.GET("/pins", s.handlePins)
	router.GET("/pins/:channel", s.handleRead)
	router.PUT("/pins/:channel", s.handleWrite)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: requestTimeout,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
		IdleTimeout:       2 * requestTimeout,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handlePins(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, status.PinsJSON(s.tracker.Snapshot().Pins))
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	channel, ok := parseChannel(w, p)
	if !ok {
		return
	}

	value, err := s.pins.Read(r.Context(), channel)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	s.tracker.SetValue(channel, s.pinID(channel), value)
	writeJSON(w, http.StatusOK, ValueJSON{Channel: channel, Value: value})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	channel, ok := parseChannel(w, p)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		http.Error(w, "reading body failed", http.StatusBadRequest)
		return
	}
	value, err := parseValue(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.pins.Write(r.Context(), channel, value); err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	s.tracker.SetValue(channel, s.pinID(channel), value)
	writeJSON(w, http.StatusOK, ValueJSON{Channel: channel, Value: value})
}

func (s *Server) pinID(channel int) string {
	for _, p := range s.tracker.Snapshot().Pins {
		if p.Channel == channel {
			return p.ID
		}
	}
	return ""
}

// ValueJSON is the body of pin read and write responses.
type ValueJSON struct {
	Channel int  `json:"channel"`
	Value   bool `json:"value"`
}

func parseChannel(w http.ResponseWriter, p httprouter.Params) (int, bool) {
	channel, err := strconv.Atoi(p.ByName("channel"))
	if err != nil || channel <= 0 {
		http.Error(w, "channel must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return channel, true
}

// parseValue accepts {"value": true}, or a bare 1/0, true/false,
// high/low or on/off.
func parseValue(body []byte) (bool, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") {
		var v struct {
			Value *bool `json:"value"`
		}
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return false, errors.New("invalid JSON body")
		}
		if v.Value == nil {
			return false, errors.New(`missing "value"`)
		}
		return *v.Value, nil
	}

	switch strings.ToLower(text) {
	case "1", "true", "high", "on":
		return true, nil
	case "0", "false", "low", "off":
		return false, nil
	}
	return false, errors.New("value must be 1/0, true/false, high/low or on/off")
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, gpio.ErrNotExportedForWrite):
		return http.StatusConflict
	case errors.Is(err, gpio.ErrNotExported), errors.Is(err, gpio.ErrChannelNotMapped):
		return http.StatusNotFound
	case errors.Is(err, gpio.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
