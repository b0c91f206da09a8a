package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// opsServer exposes the operational HTTP endpoints: health, a stats snapshot,
// and Prometheus metrics. It listens on a separate port from the chat
// protocol.
type opsServer struct {
	srv  *Server
	echo *echo.Echo
	proc *process.Process
}

func newOpsServer(srv *Server) *opsServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			srv.log.Debug().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("ops request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	o := &opsServer{srv: srv, echo: e}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		o.proc = proc
	}
	o.registerRoutes()
	return o
}

func (o *opsServer) registerRoutes() {
	o.echo.GET("/healthz", o.handleHealth)
	o.echo.GET("/api/stats", o.handleStats)
	o.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// run starts the ops HTTP server on addr and blocks until ctx is cancelled.
func (o *opsServer) run(ctx context.Context, addr string) {
	go func() {
		if err := o.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			o.srv.log.Error().Err(err).Msg("ops server error")
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.echo.Shutdown(shutCtx); err != nil {
		o.srv.log.Error().Err(err).Msg("ops server shutdown")
	}
}

// HealthResponse is the payload for GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (o *opsServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: o.srv.conns.Len(),
	})
}

// ProcessStats reports resource usage of the server process.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// StatsResponse is the payload for GET /api/stats.
type StatsResponse struct {
	Users         []string     `json:"users"`
	Channels      []string     `json:"channels"`
	Messages      int          `json:"messages"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Process       ProcessStats `json:"process"`
}

func (o *opsServer) handleStats(c echo.Context) error {
	resp := StatsResponse{
		Users:         o.srv.conns.Names(),
		Channels:      o.srv.conns.ChannelNames(),
		Messages:      o.srv.msgs.Len(),
		UptimeSeconds: time.Since(o.srv.started).Seconds(),
	}
	if o.proc != nil {
		if mi, err := o.proc.MemoryInfo(); err == nil {
			resp.Process.RSSBytes = mi.RSS
		}
		if pct, err := o.proc.CPUPercent(); err == nil {
			resp.Process.CPUPercent = pct
		}
	}
	return c.JSON(http.StatusOK, resp)
}
