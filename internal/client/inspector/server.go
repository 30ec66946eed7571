// Package inspector serves a local HTTP API describing the running
// publisher: connection state, request usage and recent events.
package inspector

import (
	"context"
	"errors"
	"net/http"
	"time"

	"qrypub/internal/client/usage"
	"qrypub/pkg/protocol"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Publisher is the part of the publisher the API drives.
type Publisher interface {
	PublicKey() string
	Connected() bool
	SetMetadata(v any)
	SendMetadata(data any) error
	PublishIndexerStatus(status protocol.IndexerStatus) error
}

type Server struct {
	publisher Publisher
	collector *usage.Collector
	recorder  *Recorder
	hubAddr   string
	started   time.Time
	logger    *zap.Logger
}

type statusResponse struct {
	HubAddr   string `json:"hubAddr"`
	PublicKey string `json:"publicKey"`
	Anonymous bool   `json:"anonymous"`
	Connected bool   `json:"connected"`
	Uptime    string `json:"uptime"`
}

type usageResponse struct {
	Usage    string `json:"usage"`
	Requests int64  `json:"requests"`
	Total    int64  `json:"total"`
	From     string `json:"fromTs"`
}

func New(p Publisher, collector *usage.Collector, recorder *Recorder, hubAddr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		publisher: p,
		collector: collector,
		recorder:  recorder,
		hubAddr:   hubAddr,
		started:   time.Now(),
		logger:    logger,
	}
}

// Router builds the API. Requests to it are counted by the collector, so
// the reported usage reflects this API as the served application.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), usage.Middleware(s.collector))

	api := r.Group("/api")
	api.GET("/status", s.status)
	api.GET("/usage", s.usage)
	api.GET("/events", s.events)
	api.POST("/indexer-status", s.indexerStatus)
	api.POST("/metadata", s.metadata)
	return r
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("inspector listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) status(c *gin.Context) {
	pub := s.publisher.PublicKey()
	c.JSON(http.StatusOK, statusResponse{
		HubAddr:   s.hubAddr,
		PublicKey: pub,
		Anonymous: pub == "",
		Connected: s.publisher.Connected(),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) usage(c *gin.Context) {
	snap := s.collector.Snapshot()
	table, err := protocol.FormatUsageStats(snap.Table)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usageResponse{
		Usage:    table,
		Requests: snap.Requests,
		Total:    snap.Total,
		From:     snap.From.UTC().Format(time.RFC3339),
	})
}

func (s *Server) events(c *gin.Context) {
	c.JSON(http.StatusOK, s.recorder.List())
}

func (s *Server) indexerStatus(c *gin.Context) {
	var req protocol.IndexerStatusData
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of none, offline, delayed, active"})
		return
	}
	if err := s.publisher.PublishIndexerStatus(req.Status); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// metadata replaces the instance metadata and pushes it right away.
func (s *Server) metadata(c *gin.Context) {
	var md map[string]any
	if err := c.ShouldBindJSON(&md); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.publisher.SetMetadata(md)
	if err := s.publisher.SendMetadata(md); err != nil {
		// kept for the next metadata request
		c.JSON(http.StatusAccepted, gin.H{"sent": false})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}
