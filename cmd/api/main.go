package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/homebattery2mqtt/internal/adapter/actor"
	"github.com/berfenger/homebattery2mqtt/internal/config"
	"github.com/berfenger/homebattery2mqtt/internal/core/actor"
	"github.com/berfenger/homebattery2mqtt/internal/core/service"
	"github.com/berfenger/homebattery2mqtt/internal/logging"
	"github.com/berfenger/homebattery2mqtt/internal/metrics"
	"github.com/berfenger/homebattery2mqtt/internal/server"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"
	"github.com/berfenger/homebattery2mqtt/pkg/battery_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	slog.Info("Using", "config", cfg.Redacted())

	logger, err := logging.New(cfg.Log, cfg.LogLevel)
	if err != nil {
		slog.Error("logger errors", "error", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(registry)

	serviceCfg, err := cfg.ServiceConfig()
	if err != nil {
		logger.Fatal("battery config", zap.Error(err))
	}
	battery, err := service.NewHomeBattery(serviceCfg, logger.With(zap.String("component", "battery")))
	if err != nil {
		logger.Fatal("battery init", zap.Error(err))
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// init Modbus actor provider
	modbusProv, err := modbusActorProvider(cfg, appMetrics, logger)
	if err != nil {
		logger.Fatal("modbus client", zap.Error(err))
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, battery, modbusProv, mqttActorProvider(cfg, appMetrics, logger), appMetrics, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Fatal("master actor", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, registry)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func modbusActorProvider(cfg *config.Config, m *metrics.AppMetrics, logger *zap.Logger) (actor.ModbusActorProvider, error) {

	client, err := battery_modbus.CreateModbusClient(cfg.ModbusTcp.Host, cfg.ModbusTcp.Port, uint8(cfg.ModbusTcp.UnitId),
		cfg.ModbusTcp.Timeout(), logger, &battery_modbus.ModbusInstrument{
			RecordTime: m.RecordModbusOp,
		})
	if err != nil {
		return nil, err
	}

	return func() *adactor.ModbusActor {
		return adactor.NewModbusActor(client, cfg.Cycle.Timeout(), m, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, m *metrics.AppMetrics, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, m, logger)
	}
}
