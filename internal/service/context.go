package service

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	ContextLogger contextKey = "logger"
	ContextHub    contextKey = "hub"
)

// InjectLogger stashes logger on the request context; NewRouter installs
// it in the HTTP middleware chain.
func InjectLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextLogger, logger)))
		})
	}
}

// InjectManager stashes the Manager on the request context.
func InjectManager(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextHub, m)))
		})
	}
}

func mustGetLogger(r *http.Request) *slog.Logger {
	log, ok := r.Context().Value(ContextLogger).(*slog.Logger)
	if !ok {
		panic("logger not found on request context")
	}
	return log
}

func mustGetManager(r *http.Request) *Manager {
	m, ok := r.Context().Value(ContextHub).(*Manager)
	if !ok {
		panic("manager not found on request context")
	}
	return m
}
