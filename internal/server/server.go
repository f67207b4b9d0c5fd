// Package server exposes the record service over HTTP.
package server

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alfredjeanlab/sdata/internal/service"
)

// DefaultReapBatch is the record limit of an operator-triggered sweep.
const DefaultReapBatch = 100

// Options configure a Server.
type Options struct {
	// Hub serves GET /v1/events/stream; nil disables the endpoint.
	Hub       *StreamHub
	Logger    *slog.Logger
	ReapBatch int
}

// Server holds the HTTP handlers. Create one with New.
type Server struct {
	svc       *service.Service
	hub       *StreamHub
	validate  *validator.Validate
	log       *slog.Logger
	reapBatch int
}

func New(svc *service.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReapBatch <= 0 {
		opts.ReapBatch = DefaultReapBatch
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		svc:       svc,
		hub:       opts.Hub,
		validate:  v,
		log:       opts.Logger,
		reapBatch: opts.ReapBatch,
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }
