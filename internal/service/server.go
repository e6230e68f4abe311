package service

import (
	"attribution/internal/classifier"
	"attribution/internal/store"
	"attribution/internal/types"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const (
	VisitorCookie    = "_attr_vid"
	visitorCookieAge = 2 * 365 * 24 * time.Hour
	maxBodyBytes     = 64 << 10
	qrSize           = 256
)

type Recorder interface {
	RecordTouch(ctx context.Context, visitorID string, pc types.Context) types.View
	Snapshot(ctx context.Context, visitorID string) types.Snapshot
	Params(ctx context.Context, visitorID, conversionPath, userAgent string) store.Params
	Available() bool
}

type TouchSink interface {
	PushTouch(data types.TouchData)
}

type ConversionStore interface {
	SaveConversion(ctx context.Context, c types.Conversion) (int64, error)
}

type Server struct {
	port        string
	baseURL     string
	recorder    Recorder
	analytics   TouchSink
	conversions ConversionStore
	linker      *Linker
}

func NewServer(port, baseURL string, recorder Recorder, analytics TouchSink, conversions ConversionStore, linker *Linker) *Server {
	return &Server{
		port:        port,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		recorder:    recorder,
		analytics:   analytics,
		conversions: conversions,
		linker:      linker,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handlerHealth)
	mux.HandleFunc("POST /v1/touches", s.handlerTouch)
	mux.HandleFunc("GET /v1/attribution", s.handlerAttribution)
	mux.HandleFunc("GET /v1/attribution/params", s.handlerParams)
	mux.HandleFunc("GET /v1/attribution/query", s.handlerQuery)
	mux.HandleFunc("POST /v1/conversions", s.handlerConversion)
	mux.HandleFunc("GET /{code}", s.handlerRedirect)
	mux.HandleFunc("GET /{code}/qr", s.handlerQR)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() { errChan <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type touchRequest struct {
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"user_agent"`
}

type conversionRequest struct {
	Form string `json:"form"`
	Page string `json:"page"`
}

type conversionResponse struct {
	ID     int64        `json:"id"`
	Params store.Params `json:"params"`
}

func (s *Server) handlerHealth(w http.ResponseWriter, _ *http.Request) {
	storage := "online"
	if !s.recorder.Available() {
		storage = "offline"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "storage": storage})
}

func (s *Server) handlerTouch(w http.ResponseWriter, r *http.Request) {
	var req touchRequest
	if err := decodeJSON(w, r, &req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	// Without a host the same-site referrer check cannot run.
	if _, err := ValidateLink(req.URL); err != nil {
		http.Error(w, "url must be absolute http(s)", http.StatusBadRequest)
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	visitorID := s.visitorID(w, r)
	view := s.recorder.RecordTouch(r.Context(), visitorID, classifier.ContextFromURL(req.URL, req.Referrer, req.UserAgent))
	s.push(r, visitorID, "", req.UserAgent, view.Touch)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlerAttribution(w http.ResponseWriter, r *http.Request) {
	visitorID := s.visitorID(w, r)
	writeJSON(w, http.StatusOK, s.recorder.Snapshot(r.Context(), visitorID))
}

func (s *Server) handlerParams(w http.ResponseWriter, r *http.Request) {
	visitorID := s.visitorID(w, r)
	writeJSON(w, http.StatusOK, s.recorder.Params(r.Context(), visitorID, conversionPage(r), r.UserAgent()))
}

func (s *Server) handlerQuery(w http.ResponseWriter, r *http.Request) {
	visitorID := s.visitorID(w, r)
	params := s.recorder.Params(r.Context(), visitorID, conversionPage(r), r.UserAgent())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(params.Encode()))
}

func (s *Server) handlerConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Form == "" {
		http.Error(w, "form is required", http.StatusBadRequest)
		return
	}
	if req.Page == "" {
		req.Page = "/"
	}

	visitorID := s.visitorID(w, r)
	params := s.recorder.Params(r.Context(), visitorID, req.Page, r.UserAgent())
	id, err := s.conversions.SaveConversion(r.Context(), types.Conversion{
		VisitorID: visitorID,
		Form:      req.Form,
		Page:      req.Page,
		Params:    params,
	})
	if err != nil {
		slog.Error("failed to save conversion", "visitor_id", visitorID, "form", req.Form, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conversionResponse{ID: id, Params: params})
}

func (s *Server) handlerRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	userAgent := r.UserAgent()
	link, err := s.linker.GetLinkCacheByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrInvalidCharacter) {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to resolve link", "code", code, "error", err)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	visitorID := s.visitorID(w, r)
	view := s.recorder.RecordTouch(ctx, visitorID, classifier.ContextFromURL(link.OriginalLink, r.Referer(), userAgent))
	s.push(r, visitorID, code, userAgent, view.Touch)

	http.Redirect(w, r, link.OriginalLink, http.StatusFound)
}

func (s *Server) handlerQR(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if _, err := s.linker.GetLinkCacheByCode(r.Context(), code); err != nil {
		http.NotFound(w, r)
		return
	}
	png, err := qrcode.Encode(s.baseURL+"/"+code, qrcode.Medium, qrSize)
	if err != nil {
		slog.Error("failed to encode qr code", "code", code, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// visitorID returns the visitor cookie, assigning a new id when absent.
func (s *Server) visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(VisitorCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieAge.Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(s.baseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *Server) push(r *http.Request, visitorID, code, userAgent string, touch types.Touch) {
	if s.analytics == nil {
		return
	}
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
	}
	s.analytics.PushTouch(types.TouchData{
		VisitorID: visitorID,
		ShortCode: code,
		IP:        ip,
		UserAgent: userAgent,
		Touch:     touch,
	})
}

func conversionPage(r *http.Request) string {
	if page := r.URL.Query().Get("page"); page != "" {
		return page
	}
	return "/"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
