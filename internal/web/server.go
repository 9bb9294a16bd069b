// Package web serves the chat page, the websocket event channel and the practice sheet downloads.
//
// Endpoints:
//   - GET  /                  chat page
//   - POST /credential        store an API key on the session
//   - GET  /ws                websocket for chat events
//   - GET  /export/{format}   practice sheet (txt, pdf, html) or conversation transcript download
//   - GET  /health            liveness
package web

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/cchalm/math-tutor/internal/session"
	"github.com/cchalm/math-tutor/internal/sheet"
)

const (
	sessionCookieName = "mt_session"

	pageTitle   = "📐 高校数学 AIチューター"
	inputPrompt = "質問を入力（例：ベクトルの内積って何？）"

	// FormatTranscript names the conversation download on the export endpoint
	FormatTranscript = "transcript"
)

//go:embed index.html.tmpl
var indexTemplateText string

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"markdown": renderMarkdown,
}).Parse(indexTemplateText))

// Options configure the web server
type Options struct {
	Export            sheet.Options
	ProviderLabel     string // Shown in the caption and the key form, e.g. "Gemini"
	RequestsPerMinute float64
	Burst             int
	MaxImageBytes     int
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Export:            sheet.DefaultOptions(),
		ProviderLabel:     "Gemini",
		RequestsPerMinute: 20,
		Burst:             5,
		MaxImageBytes:     10 << 20,
	}
}

// Server serves the tutor to browsers. Each browser gets its own session through a cookie.
type Server struct {
	sessions *session.Manager
	limiters *sessionLimiters
	opts     Options
}

func NewServer(sessions *session.Manager, opts Options) *Server {
	return &Server{
		sessions: sessions,
		limiters: newSessionLimiters(opts.RequestsPerMinute, opts.Burst),
		opts:     opts,
	}
}

// Handler returns the HTTP handler for every endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /credential", s.handleCredential)
	mux.HandleFunc("GET /ws", s.handleSocket)
	mux.HandleFunc("GET /export/{format}", s.handleExport)
	mux.HandleFunc("GET /health", s.handleHealth)
	return logRequests(mux)
}

// sessionFor returns the session named by the request's cookie, creating one and setting the cookie when there is
// none or it has expired
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		id = cookie.Value
	}

	sess, created := s.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		s.limiters.prune(func(id string) bool {
			_, ok := s.sessions.Get(id)
			return ok
		})
	}
	return sess
}

type indexData struct {
	Title         string
	Caption       string
	InputPrompt   string
	ProviderLabel string
	FontWarning   string
	MathJaxURL    string
	Formats       []string
	View          session.View
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)

	data := indexData{
		Title:         pageTitle,
		Caption:       fmt.Sprintf("%s 搭載。ヒントを出して一緒に考えてくれるよ！", s.opts.ProviderLabel),
		InputPrompt:   inputPrompt,
		ProviderLabel: s.opts.ProviderLabel,
		FontWarning:   sheet.NewPDFExporter(s.opts.Export.FontPath).FontWarning(),
		MathJaxURL:    s.opts.Export.MathJaxURL,
		Formats:       sheet.Formats,
		View:          sess.View(),
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		log.Printf("Failed to render index page: %v", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if err := sess.SetCredential(r.PostFormValue("api_key")); err != nil {
		log.Printf("Rejected credential for session %s: %v", sess.ID, err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	format := r.PathValue("format")

	if format == FormatTranscript {
		if len(sess.View().Turns) == 0 {
			http.Error(w, "no conversation yet", http.StatusNotFound)
			return
		}
		md, err := sess.Transcript()
		if err != nil {
			log.Printf("Failed to render transcript: %v", err)
			http.Error(w, "failed to render transcript", http.StatusInternalServerError)
			return
		}
		writeDownload(w, "conversation.md", "text/markdown; charset=utf-8", []byte(md))
		return
	}

	exporter, err := sheet.ExporterFor(format, s.opts.Export)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	sh, ok := sess.Sheet()
	if !ok {
		http.Error(w, "no practice sheet available", http.StatusNotFound)
		return
	}
	data, err := exporter.Export(sh)
	if err != nil {
		log.Printf("Failed to export practice sheet as %s: %v", format, err)
		http.Error(w, "failed to export practice sheet", http.StatusInternalServerError)
		return
	}
	writeDownload(w, sheet.FileName(exporter), exporter.MimeType(), data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "ok %d sessions\n", s.sessions.Len())
}

func writeDownload(w http.ResponseWriter, name string, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			// Hijacked connections have no meaningful status or duration
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}
