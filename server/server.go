// Package server exposes topics, data and statistics over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/metrics"
	"github.com/gin-gonic/gin"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

// Options configure the HTTP service.
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Workers bounds the number of topics processed concurrently by
	// overview and comparison requests. Defaults to the number of CPUs.
	Workers int
	Debug   bool
}

// Validate fills in defaults and checks the options.
func (opts *Options) Validate() error {
	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = time.Minute
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = time.Minute
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(opts.ReadTimeout < 0, "read timeout must not be negative")
	catcher.NewWhen(opts.WriteTimeout < 0, "write timeout must not be negative")
	catcher.NewWhen(opts.ShutdownTimeout < 0, "shutdown timeout must not be negative")
	catcher.NewWhen(opts.Workers < 0, "workers must not be negative")
	if catcher.HasErrors() {
		return errors.Wrap(fdbk.ErrValidation, catcher.Resolve().Error())
	}
	return nil
}

// Service serves the HTTP API of a DB.
type Service struct {
	db      *fdbk.DB
	metrics *metrics.Metrics
	opts    Options
	router  *gin.Engine
}

// New builds the service and its routes. A nil metrics argument creates
// a fresh set of collectors.
func New(db *fdbk.DB, m *metrics.Metrics, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("service requires a database")
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	if m == nil {
		m = metrics.New()
	}

	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Service{
		db:      db,
		metrics: m,
		opts:    opts,
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery(), requestLogger(m))
	s.addRoutes()

	return s, nil
}

// Handler returns the routes of the service.
func (s *Service) Handler() http.Handler { return s.router }

// Run serves requests until the context is canceled and then shuts the
// server down.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Address,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		defer recovery.LogStackTraceAndContinue("http server")
		grip.Info(message.Fields{
			"message": "starting http server",
			"address": s.opts.Address,
		})
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return errors.Wrap(err, "problem serving http")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	grip.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "problem shutting down http server")
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "problem serving http")
	}
	return nil
}
