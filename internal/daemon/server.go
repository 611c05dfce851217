package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/officechat/internal/config"
	"github.com/matheus3301/officechat/internal/metrics"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/matheus3301/officechat/internal/offline"
	"github.com/matheus3301/officechat/internal/realtime"
	"go.uber.org/zap"
)

// Health is the /healthz response body.
type Health struct {
	Profile           string `json:"profile"`
	Connection        string `json:"connection"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	LastHeartbeat     int64  `json:"lastHeartbeat,omitempty"`
	Online            bool   `json:"online"`
	OfflineForMS      int64  `json:"offlineForMs,omitempty"`
	Unread            int    `json:"unread"`
}

// Server exposes Prometheus metrics and a health probe over HTTP. It is
// disabled when no metrics address is configured.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the metrics listener. An empty cfg.MetricsAddr yields a
// server whose Start and Stop are no-ops.
func NewServer(
	p Params,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	mgr *realtime.Manager,
	detector *offline.Detector,
	sched *notify.Scheduler,
) (*Server, error) {
	s := &Server{logger: logger}
	if cfg.MetricsAddr == "" {
		return s, nil
	}

	listener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics addr: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", healthHandler(p.ProfileName, mgr, detector, sched))

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Addr returns the bound address, or "" when disabled.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("metrics server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	s.logger.Info("metrics server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}

func healthHandler(profileName string, mgr *realtime.Manager, detector *offline.Detector, sched *notify.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := Health{
			Profile:           profileName,
			Connection:        string(mgr.ConnectionState()),
			ReconnectAttempts: mgr.ReconnectAttempts(),
			Online:            detector.IsOnline(),
			OfflineForMS:      detector.OfflineDuration().Milliseconds(),
			Unread:            sched.UnreadCount(),
		}
		if hb := mgr.LastHeartbeat(); !hb.IsZero() {
			h.LastHeartbeat = hb.UnixMilli()
		}
		w.Header().Set("Content-Type", "application/json")
		if !h.Online {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}
