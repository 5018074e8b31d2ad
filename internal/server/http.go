package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// HTTPServer wraps the gin engine with graceful shutdown.
type HTTPServer struct {
	engine *gin.Engine
	logger *zap.Logger
}

func NewHTTPServer(router *gin.Engine, logger *zap.Logger) *HTTPServer {
	router.HandleMethodNotAllowed = true
	router.ForwardedByClientIP = true
	return &HTTPServer{engine: router, logger: logger}
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests
// before returning.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("http server draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
