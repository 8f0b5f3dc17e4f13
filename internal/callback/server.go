// Package callback receives the authorization redirect on a loopback address.
package callback

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-authgate/oidc-account/internal/token"
)

// ErrNotLoopback is returned for redirect URLs a local listener cannot serve.
var ErrNotLoopback = errors.New("redirect URL is not an http loopback address")

const shutdownTimeout = 5 * time.Second

// IsLoopback reports whether redirectURL can be captured by a local listener.
func IsLoopback(redirectURL string) bool {
	_, err := loopbackTarget(redirectURL)
	return err == nil
}

func loopbackTarget(redirectURL string) (*url.URL, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotLoopback, err)
	}
	if u.Scheme != "http" {
		return nil, ErrNotLoopback
	}
	host := u.Hostname()
	if host == "localhost" {
		return u, nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return u, nil
	}
	return nil, ErrNotLoopback
}

// Server serves exactly one redirect and hands its full URL to Wait.
type Server struct {
	target    *url.URL
	listener  net.Listener
	http      *http.Server
	redirects chan string
	once      sync.Once
	logger    *slog.Logger
}

// Listen binds the host and port of redirectURL. A nil logger discards output.
func Listen(redirectURL string, logger *slog.Logger) (*Server, error) {
	target, err := loopbackTarget(redirectURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ln, err := net.Listen("tcp", target.Host)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", target.Host, err)
	}
	// Port 0 binds an ephemeral port.
	target.Host = ln.Addr().String()

	s := &Server{
		target:    target,
		listener:  ln,
		redirects: make(chan string, 1),
		logger:    logger,
	}
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server stopped", "error", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := s.target.Path
	if path == "" {
		path = "/"
	}
	if r.Method != http.MethodGet || r.URL.Path != path {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	switch {
	case q.Get("error") != "":
		s.render(w, http.StatusOK, errorPage, pageData{
			Code:        q.Get("error"),
			Description: descriptionOr(q.Get("error_description")),
		})
	case q.Get("code") == "":
		s.render(w, http.StatusBadRequest, errorPage, pageData{
			Code:        "invalid_request",
			Description: "Missing authorization code",
		})
	default:
		s.render(w, http.StatusOK, successPage, pageData{})
	}

	// The redirect is handed over as-is; state is checked by the login attempt.
	received := *s.target
	received.RawQuery = r.URL.RawQuery
	s.once.Do(func() {
		s.redirects <- received.String()
	})
}

// Wait blocks until a redirect arrives or ctx is done.
func (s *Server) Wait(ctx context.Context) (string, error) {
	select {
	case u := <-s.redirects:
		return u, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", token.ErrCancelled, ctx.Err())
	}
}

// Close stops the listener.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) render(w http.ResponseWriter, status int, page *template.Template, data pageData) {
	w.WriteHeader(status)
	if err := page.Execute(w, data); err != nil {
		s.logger.Warn("failed to render callback page", "error", err)
	}
}

func descriptionOr(desc string) string {
	if desc == "" {
		return "No description provided"
	}
	return desc
}
