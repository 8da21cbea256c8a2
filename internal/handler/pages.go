// Package handler contains the HTTP request handlers of the ReRoom backend.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, headers)
// 2. Call the services (auth adapter, profiles, ledger, billing)
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers should NOT contain business logic. They are the "glue" between HTTP and your app.
package handler

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path/filepath"

	"github.com/sakif/reroom-bff/internal/auth"
)

// PageHandler answers page navigations that made it through the route
// guard.
//
// TWO MODES:
//   - frontend URL set → reverse-proxy to the web app (the usual deployment:
//     this server sits in front of it and enforces the guard)
//   - no frontend URL  → render a minimal built-in shell from templateDir,
//     enough to exercise sign-in and the guard locally
type PageHandler struct {
	proxy     http.Handler
	templates *template.Template
	logger    *slog.Logger
}

// NewPageHandler creates a PageHandler. frontendURL wins over templateDir
// when both are set.
func NewPageHandler(frontendURL, templateDir string, logger *slog.Logger) (*PageHandler, error) {
	h := &PageHandler{logger: logger}

	if frontendURL != "" {
		target, err := url.Parse(frontendURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("handler: invalid frontend URL %q", frontendURL)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("frontend unreachable",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		}
		h.proxy = proxy
		return h, nil
	}

	// base.html holds the layout, page.html fills its "content" block.
	tmpl, err := template.ParseFiles(
		filepath.Join(templateDir, "base.html"),
		filepath.Join(templateDir, "page.html"),
	)
	if err != nil {
		return nil, fmt.Errorf("handler: parsing page templates: %w", err)
	}
	h.templates = tmpl
	return h, nil
}

// pageData is what the shell templates can use.
type pageData struct {
	Title     string
	Path      string
	Email     string // empty when signed out
	AuthError string // set on /auth/auth-code-error
}

// ServeHTTP serves any page path.
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.proxy != nil {
		h.proxy.ServeHTTP(w, r)
		return
	}

	data := pageData{
		Title:     "ReRoom AI",
		Path:      r.URL.Path,
		AuthError: r.URL.Query().Get("error"),
	}
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		data.Email = s.User.Email
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "base", data); err != nil {
		h.logger.Error("failed to render template",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
