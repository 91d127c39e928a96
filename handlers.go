package main

import (
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/cors"
)

//go:embed web/*
var webFS embed.FS

// ContentResult is the rendered-content response
type ContentResult struct {
	File        string         `json:"file"`
	HTML        string         `json:"html"`
	Headings    []Heading      `json:"headings"`
	Raw         string         `json:"raw"`
	FrontMatter map[string]any `json:"frontMatter,omitempty"`
}

// InfoResult describes what is being served
type InfoResult struct {
	Mode       Mode   `json:"mode"`
	TargetPath string `json:"targetPath"`
	Version    string `json:"version"`
}

// TreeResult wraps the navigable file tree
type TreeResult struct {
	Tree []TreeNode `json:"tree"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server binds the renderer, tree builder and change hub to HTTP routes
type Server struct {
	app      *AppContext
	renderer *Renderer
	hub      *Hub
	policy   ExcludePolicy
	logger   *slog.Logger
	version  string
}

// NewServer creates the request handlers for app
func NewServer(app *AppContext, hub *Hub, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		app:      app,
		renderer: NewRenderer(),
		hub:      hub,
		policy:   DefaultExcludePolicy(),
		logger:   logger,
		version:  version,
	}
}

// Routes returns the HTTP handler. CORS headers are only added when
// corsOrigins is non-empty.
func (s *Server) Routes(corsOrigins []string) http.Handler {
	web, err := fs.Sub(webFS, "web")
	if err != nil {
		// embedded at build time, cannot fail
		panic(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", s.withRecovery(s.handleInfo))
	mux.HandleFunc("GET /api/tree", s.withRecovery(s.handleTree))
	mux.HandleFunc("GET /api/content", s.withRecovery(s.handleContent))
	mux.HandleFunc("GET /api/changes", s.withRecovery(s.hub.ServeHTTP))
	mux.HandleFunc("GET /highlight.css", s.withRecovery(s.handleHighlightCSS))
	mux.Handle("GET "+assetPrefix, newAssetHandler(s.app.Root))
	mux.Handle("GET /", http.FileServerFS(web))

	var handler http.Handler = mux
	if len(corsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet},
		}).Handler(handler)
	}
	return s.withRequestLog(handler)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, InfoResult{
		Mode:       s.app.Mode,
		TargetPath: s.app.TargetPath,
		Version:    s.version,
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if s.app.Mode == ModeFile {
		s.writeJSON(w, http.StatusOK, TreeResult{Tree: singleFileTree(s.app.TargetFile)})
		return
	}

	tree, err := BuildTree(s.app.Root, s.app.Root, s.policy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TreeResult{Tree: tree})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	absPath, rel, err := s.resolveContentPath(r.URL.Query().Get("file"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			err = errFileNotFound(err)
		}
		s.writeError(w, r, err)
		return
	}

	result, err := s.renderer.Render(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ContentResult{
		File:        rel,
		HTML:        rewriteAssetPaths(result.HTML, rel),
		Headings:    result.Headings,
		Raw:         string(raw),
		FrontMatter: result.FrontMatter,
	})
}

func (s *Server) handleHighlightCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	if err := WriteHighlightCSS(w); err != nil {
		s.logger.Error("write highlight css", "error", err)
	}
}

// resolveContentPath validates the requested file and returns its absolute
// location and its slash-separated path relative to the root. Traversal and
// absolute paths are refused in every mode; past that check, file mode
// always resolves to the served target.
func (s *Server) resolveContentPath(requested string) (string, string, error) {
	if requested == "" {
		return "", "", errMissingFile()
	}

	if strings.ContainsRune(requested, 0) || filepath.IsAbs(requested) || strings.HasPrefix(requested, "/") {
		return "", "", errInvalidPath()
	}
	rel := path.Clean(filepath.ToSlash(requested))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", errInvalidPath()
	}

	if s.app.Mode == ModeFile {
		rel = s.app.TargetFile
	} else if rel == "." {
		return "", "", errInvalidPath()
	}

	absPath := filepath.Join(s.app.Root, filepath.FromSlash(rel))
	if !withinRoot(s.app.Root, absPath) {
		return "", "", errAccessDenied()
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", errFileNotFound(err)
		}
		return "", "", err
	}
	if !withinRoot(s.app.Root, resolved) {
		s.logger.Warn("blocked path escaping root", "file", rel, "resolved", resolved)
		return "", "", errAccessDenied()
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", errFileNotFound(err)
		}
		return "", "", err
	}
	if info.IsDir() {
		return "", "", errFileNotFound(os.ErrNotExist)
	}
	return resolved, rel, nil
}

// withinRoot reports whether target is root or lies beneath it
func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: publicMessage(err), Code: errorCode(err)})
}

// withRecovery wraps an HTTP handler with panic recovery
func (s *Server) withRecovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic in handler", "path", r.URL.Path, "panic", err, "stack", string(debug.Stack()))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// statusRecorder captures the response status for request logs
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps change streams working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
