// Package explorer is the HTTP read-side of spec.md §2 item (the
// out-of-scope-for-the-core "explorer"): gin routes over the store's
// read-only Querier, serving the same views as
// original_source/lincoln/views.py, adapted from
// internal/handler/http_handler.go's route-group/CORS structure.
package explorer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config carries the pagination caps of spec.md §6.
type Config struct {
	Host              string
	Port              int
	OutputsPerPage    int
	TransPerPage      int
	BlocksPerPage     int
	SearchResultLimit int
}

type Server struct {
	cfg    Config
	store  store.Querier
	logger *zap.Logger
	engine *gin.Engine
	http   *http.Server
}

func New(cfg Config, querier store.Querier, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), ginZapLogger(logger), corsMiddleware())

	s := &Server{cfg: cfg, store: querier, logger: logger, engine: router}
	s.registerRoutes(router)
	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/health", s.health)

	router.GET("/blocks", s.listBlocks)
	router.GET("/block/:hash", s.blockByHash)
	router.GET("/transactions", s.listTransactions)
	router.GET("/transaction/:txid", s.transactionByTxid)
	router.GET("/address/:address", s.addressByHash)
	router.GET("/search/:query", s.search)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListenAndServe starts the HTTP server and blocks until ctx is
// cancelled, then shuts down gracefully (mirrors
// compliance/cmd/main.go's shutdown sequence, generalised from one
// fixed signal-driven main to an arbitrary caller-owned context).
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    addr(s.cfg.Host, s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func addr(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func ginZapLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
