package app

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/intakecall/internal/observe"
	"github.com/MrWong99/intakecall/internal/record"
	"github.com/MrWong99/intakecall/internal/session"
	"github.com/MrWong99/intakecall/pkg/audio/browser"
	"github.com/MrWong99/intakecall/pkg/audio/twilio"
)

const (
	// twilioStartTimeout bounds the wait for the Media Streams "start" event.
	twilioStartTimeout = 10 * time.Second

	mediaPath = "/twilio/media"
)

// Handler returns the HTTP handler serving every endpoint, instrumented with
// [observe.Middleware].
//
//	GET    /ws/call          browser call (websocket)
//	GET    /twilio/media     Twilio Media Streams (websocket)
//	POST   /twilio/voice     Twilio voice webhook, answers with TwiML
//	GET    /sessions         live calls
//	GET    /sessions/{id}    interview progress of one call
//	DELETE /sessions/{id}    hang up a live call
//	GET    /healthz, /readyz
//	GET    <metrics path>    Prometheus metrics
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/call", a.handleBrowserCall)
	mux.HandleFunc("GET "+mediaPath, a.handleTwilioMedia)
	mux.HandleFunc("POST /twilio/voice", a.handleTwilioVoice)
	mux.HandleFunc("GET /sessions", a.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", a.handleSessionStats)
	mux.HandleFunc("DELETE /sessions/{id}", a.handleHangup)
	a.health.Register(mux)
	metricsPath := a.Config().Observe.MetricsPath
	mux.Handle("GET "+metricsPath, a.metricsHandler)
	return observe.Middleware(a.metrics, observe.WithQuietRoutes("/healthz", "/readyz", metricsPath))(mux)
}

func (a *App) handleBrowserCall(w http.ResponseWriter, r *http.Request) {
	tr, err := browser.Accept(w, r, nil)
	if err != nil {
		slog.Warn("browser call rejected", "remote", r.RemoteAddr, "err", err)
		return
	}
	info := CallInfo{
		SessionID: a.newID(),
		Transport: "browser",
		Phone:     r.URL.Query().Get("phone"),
	}
	if err := a.sessions.Run(r.Context(), tr, info); err != nil {
		slog.Warn("browser call failed", "session_id", info.SessionID, "err", err)
	}
}

func (a *App) handleTwilioMedia(w http.ResponseWriter, r *http.Request) {
	tr, err := twilio.Accept(w, r, nil)
	if err != nil {
		slog.Warn("media stream rejected", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), twilioStartTimeout)
	start, err := tr.WaitStart(ctx)
	cancel()
	if err != nil {
		slog.Warn("media stream ended before start", "remote", r.RemoteAddr, "err", err)
		_ = tr.Close()
		return
	}

	info := CallInfo{
		SessionID: a.newID(),
		Transport: "twilio",
		Phone:     start.Caller(),
	}
	slog.Debug("media stream started", "session_id", info.SessionID, "call_sid", start.CallSID, "stream_sid", start.StreamSID)
	if err := a.sessions.Run(r.Context(), tr, info); err != nil {
		slog.Warn("phone call failed", "session_id", info.SessionID, "call_sid", start.CallSID, "err", err)
	}
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect struct {
		Stream twimlStream `xml:"Stream"`
	} `xml:"Connect"`
}

// handleTwilioVoice answers the incoming-call webhook by connecting the call
// to the media stream endpoint. The caller's number travels as the "from"
// stream parameter.
func (a *App) handleTwilioVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	var resp twimlResponse
	resp.Connect.Stream.URL = a.mediaStreamURL(r)
	if from := r.PostFormValue("From"); from != "" {
		resp.Connect.Stream.Parameters = []twimlParameter{{Name: "from", Value: from}}
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

// mediaStreamURL builds the wss:// URL of the media endpoint from the
// configured public URL, or from the request when none is configured.
func (a *App) mediaStreamURL(r *http.Request) string {
	base := strings.TrimRight(a.Config().Server.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + mediaPath
}

func (a *App) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": a.sessions.Active()})
}

// handleHangup ends a live call. The call's record is saved with the hangup
// outcome like any other caller-side disconnect.
func (a *App) handleHangup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.sessions.Hangup(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no live call " + id})
		return
	}
	observe.Logger(r.Context()).Info("call hung up by operator", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	SessionID string        `json:"session_id"`
	Live      bool          `json:"live"`
	Transport string        `json:"transport,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Stats     session.Stats `json:"stats"`
}

// handleSessionStats reports interview progress for a live call, or for an
// ended call when a record lookup is configured.
func (a *App) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	_, live := a.sessions.Get(id)

	sess, err := a.store.Load(ctx, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionResponse{
			SessionID: id,
			Live:      live,
			Transport: sess.Transport,
			Stats:     sess.Stats(time.Now()),
		})
		return
	case !errors.Is(err, session.ErrNotFound):
		observe.Logger(ctx).Error("load session", "session_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session store unavailable"})
		return
	}

	if a.lookup != nil {
		rec, err := a.lookup.Get(ctx, id)
		if err == nil {
			writeJSON(w, http.StatusOK, sessionResponse{
				SessionID: id,
				Transport: rec.Transport,
				Outcome:   rec.Outcome,
				Stats:     rec.Stats,
			})
			return
		}
		if !errors.Is(err, record.ErrNotFound) {
			observe.Logger(ctx).Error("lookup record", "session_id", id, "err", err)
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
