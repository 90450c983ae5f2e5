// Package server exposes the build trigger and log stream endpoints.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
}

// New returns a new HTTP server.
// It should be started with http.Server's ListenAndServe.
func New(cfg Config, h http.Handler) *http.Server {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	log := slog.With("component", "server")
	errorLog := slog.NewLogLogger(log.Handler(), slog.LevelError)

	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}

	return &http.Server{
		Addr:              addr,
		ErrorLog:          errorLog,
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
