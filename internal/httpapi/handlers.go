package httpapi

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/R3E-Network/formrelay/internal/middleware"
)

// Built-in pages served when the base directory lacks a page file.
//
//go:embed pages/*.html
var defaultPages embed.FS

const (
	htmlContentType     = "text/html"
	fallbackContentType = "text/plain"
)

// =============================================================================
// Pages
// =============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, s.cfg.IndexPage, DefaultIndexPage, http.StatusOK)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, s.cfg.MessagePage, DefaultMessagePage, http.StatusOK)
}

func (s *Server) writeNotFound(w http.ResponseWriter, r *http.Request) {
	s.writePage(w, r, s.cfg.ErrorPage, DefaultErrorPage, http.StatusNotFound)
}

// writePage serves name from the base directory, or the embedded fallback.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, name, fallback string, status int) {
	body, err := os.ReadFile(filepath.Join(s.cfg.BaseDir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithField("page", name).WithField("trace_id", middleware.TraceID(r.Context())).
				WithError(err).Warn("failed to read page, using built-in copy")
		}
		body, err = defaultPages.ReadFile("pages/" + fallback)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", htmlContentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// =============================================================================
// Static files
// =============================================================================

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	f, info, ok := s.openStatic(r.URL.Path)
	if !ok {
		s.writeNotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeFor(info.Name()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.log.WithField("path", r.URL.Path).WithError(err).Debug("static copy interrupted")
	}
}

// openStatic resolves urlPath under the base directory. Paths are cleaned
// as if rooted, so ".." can never climb above the base. Directories count
// as missing.
func (s *Server) openStatic(urlPath string) (*os.File, fs.FileInfo, bool) {
	rel := path.Clean("/" + urlPath)
	if rel == "/" {
		return nil, nil, false
	}
	full := filepath.Join(s.cfg.BaseDir, filepath.FromSlash(rel))

	f, err := os.Open(full)
	if err != nil {
		return nil, nil, false
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, false
	}
	return f, info, true
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return fallbackContentType
}

// =============================================================================
// Submissions
// =============================================================================

// handleSubmit relays the raw body for any POST path and redirects to the
// message page. Relay failures never change the response.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.WithField("trace_id", middleware.TraceID(r.Context())).
			WithError(err).Warn("failed to read submission body")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// The send must not be cut short by the client hanging up.
	s.relay.Relay(context.WithoutCancel(r.Context()), body)

	w.Header().Set("Location", "/message")
	w.WriteHeader(http.StatusFound)
}

func (s *Server) handleUnsupported(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Unsupported method ("+r.Method+")", http.StatusNotImplemented)
}
