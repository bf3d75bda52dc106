package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

type Server struct {
	port         uint
	httpLog      bool
	rootContext  *actor.RootContext
	masterActor  *actor.PID
	registry     *prometheus.Registry
	writeLimiter *rate.Limiter
	timeout      time.Duration
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, registry *prometheus.Registry) *Server {
	writeRate := rate.Inf
	if cfg.API.WriteRatePerSecond > 0 {
		writeRate = rate.Limit(cfg.API.WriteRatePerSecond)
	}
	burst := cfg.API.WriteBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		port:         cfg.Port,
		rootContext:  rootContext,
		masterActor:  masterActor,
		httpLog:      cfg.HttpLog,
		registry:     registry,
		writeLimiter: rate.NewLimiter(writeRate, burst),
		timeout:      10 * time.Second,
	}
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, registry *prometheus.Registry) *http.Server {
	NewServer := newServer(cfg, rootContext, masterActor, registry)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
