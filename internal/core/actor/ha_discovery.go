package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/config"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/events"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const haDiscoveryRetryInterval = 2 * time.Second

// HADiscoveryActor publishes the Home Assistant discovery messages once the battery topology is known.
type HADiscoveryActor struct {
	config            *config.Config
	behavior          actor.Behavior
	scheduler         *scheduler.TimerScheduler
	cycleActor        *actor.PID
	mqttActor         *actor.PID
	cycleActorHealthy bool
	mqttActorHealthy  bool
	healthyRecv       int
	retryInterval     time.Duration

	logger *zap.Logger
}

type haDiscoveryRetry struct {
}

func NewHADiscoveryActor(config *config.Config, cycleActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:        config,
		cycleActor:    cycleActor,
		mqttActor:     mqttActor,
		behavior:      actor.NewBehavior(),
		retryInterval: haDiscoveryRetryInterval,
		logger:        actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.checkHealth(ctx)
	case *actor.Restarting:
	}
}

func (state *HADiscoveryActor) checkHealth(ctx actor.Context) {
	state.healthyRecv = 0
	state.cycleActorHealthy = false
	state.mqttActorHealthy = false
	// Cycle Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.cycleActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CYCLE,
			Healthy: false,
		}
	})
	// MQTT Actor Request
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
		}
	})
	state.behavior.Become(state.WaitingHealthyReceive)
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_CYCLE:
				state.cycleActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.cycleActorHealthy && state.mqttActorHealthy {
				state.requestInfo(ctx)
			} else {
				state.logger.Debug("hadiscovery@healthcheck: not ready, retry")
				state.scheduler.RequestOnce(state.retryInterval, ctx.Self(), haDiscoveryRetry{})
			}
		}
	case haDiscoveryRetry:
		state.checkHealth(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) requestInfo(ctx actor.Context) {
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.cycleActor, domain.GetBatteryInfoRequest{}, 2*time.Second), func(err error) any {
		return domain.GetBatteryInfoResponse{
			ActorResponseMixIn: domain.ResponseError(err),
		}
	})
	state.behavior.Become(state.WaitingInfoReceive)
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			state.logger.Error("hadiscovery@done: publish failed", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Info("hadiscovery@done: discovery published")
		}
	}
}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetBatteryInfoResponse:
		if msg.HasResponseError() || !msg.Info.Known {
			// topology is detected over the first cycles
			state.logger.Debug("hadiscovery@info: battery not known yet", zap.Error(msg.GetResponseError()))
			state.scheduler.RequestOnce(state.retryInterval, ctx.Self(), haDiscoveryRetry{})
			return
		}
		state.logger.Debug("hadiscovery@info: GetBatteryInfoResponse", zap.Any("info", msg.Info))

		var sensors []domain.GenericSensor
		var switches []domain.GenericSwitch

		bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

		batteryDevice := events.BatteryDevice(msg.Info, state.config.MQTT.BaseTopic)
		batteryDevice.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, events.BatterySensors(batteryDevice)...)
		switches = append(switches, events.BatterySwitches(batteryDevice)...)

		ctx.Request(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:  sensors,
			Switches: switches,
		})
		state.behavior.Become(state.Done)
	case haDiscoveryRetry:
		state.requestInfo(ctx)
	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
