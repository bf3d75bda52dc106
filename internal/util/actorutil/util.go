package actorutil

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"github.com/berfenger/homebattery2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel, zap.FatalLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an MQTT command to the control request it stands for.
// Unknown commands map to nil without error.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ControlRequest, error) {
	switch cmd.DeviceId {
	case domain.SWITCH_ID_BATTERY_RUN:
		switch cmd.Payload {
		case mqtt.MQTT_PAYLOAD_ON:
			return domain.SetStartStopRequest{Target: statemachine.TargetStart}, nil
		case mqtt.MQTT_PAYLOAD_OFF:
			return domain.SetStartStopRequest{Target: statemachine.TargetStop}, nil
		}
		return nil, fmt.Errorf("invalid %s payload %q", cmd.DeviceId, cmd.Payload)
	}
	if cmd.Command == mqtt.COMMAND_SET_CHANNEL {
		return domain.SetChannelRequest{Name: cmd.DeviceId, Value: cmd.Payload}, nil
	}
	return nil, nil
}
