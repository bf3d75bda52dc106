package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/config"
	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/events"
	"github.com/berfenger/homebattery2mqtt/internal/core/port"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"github.com/berfenger/homebattery2mqtt/internal/metrics"
	. "github.com/berfenger/homebattery2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// CycleActor drives the device: each tick plans the register requests, has the modbus actor execute them,
// applies the results and publishes what changed. Control requests are handled between cycles.
type CycleActor struct {
	ActorWithStates
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	device      port.CycleDevice
	modbusActor *actor.PID
	eventStream *eventstream.EventStream
	tracker     *events.ChangeTracker
	interval    time.Duration
	timeout     time.Duration
	metrics     *metrics.AppMetrics

	cycles     uint64
	lastTarget statemachine.Target

	logger *zap.Logger
}

type cycleTick struct {
}

func NewCycleActor(cfg *config.Config, device port.CycleDevice, modbusActor *actor.PID, eventStream *eventstream.EventStream,
	m *metrics.AppMetrics, logger *zap.Logger) *CycleActor {
	act := &CycleActor{
		ActorWithStates: ActorWithStates{Behavior: actor.NewBehavior()},
		stash:           &Stash{},
		device:          device,
		modbusActor:     modbusActor,
		eventStream:     eventStream,
		tracker:         events.NewChangeTracker(cfg.Cycle.PublishRefreshCycles),
		interval:        cfg.Cycle.Interval(),
		timeout:         cfg.Cycle.Timeout(),
		metrics:         m,
		lastTarget:      statemachine.TargetUndefined,
		logger:          ActorLogger(domain.ACTOR_ID_CYCLE, logger),
	}
	act.Become(cycleIdleState{actor: act})
	return act
}

func (state *CycleActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Idle state

type cycleIdleState struct {
	actor *CycleActor
}

func (state cycleIdleState) Name() string {
	return "idle"
}

func (state cycleIdleState) Receive(ctx actor.Context) {
	a := state.actor
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.logger.Debug("cycle@idle: started")
		a.scheduler = scheduler.NewTimerScheduler(ctx)
		system, modbusActor := ctx.ActorSystem(), a.modbusActor
		a.device.SetReconnectHook(func() {
			system.Root.Send(modbusActor, domain.ReconnectRequest{})
		})
		ctx.Send(ctx.Self(), cycleTick{})
	case *actor.Restarting:
	case cycleTick:
		a.startCycle(ctx)
	case domain.ActorHealthRequest:
		a.logger.Debug("cycle@idle: ActorHealthRequest")
		ctx.Respond(a.health(state.Name()))
	case domain.ExecutePlanResponse:
		// late response of a cycle that already timed out
		a.logger.Debug("cycle@idle: discard late ExecutePlanResponse")
	default:
		a.handleQuery(ctx, msg)
	}
}

// Polling state

type cyclePollingState struct {
	actor *CycleActor
	plan  regmap.Plan
	start time.Time
}

func (state cyclePollingState) Name() string {
	return "polling"
}

func (state cyclePollingState) Receive(ctx actor.Context) {
	a := state.actor
	switch msg := ctx.Message().(type) {
	case domain.ExecutePlanResponse:
		a.logger.Debug("cycle@polling: ExecutePlanResponse", zap.Duration("modbus", msg.Duration))
		results := msg.Results
		if msg.HasResponseError() && !alignedWith(state.plan, results) {
			results = regmap.FailedResults(state.plan, msg.GetResponseError())
		}
		a.finishCycle(ctx, state.plan, results, state.start)
		a.UnbecomeStacked()
		if n := a.stash.Len(); n > 0 {
			a.logger.Debug("cycle@polling: unstash", zap.Int("messages", n))
		}
		a.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(a.health(state.Name()))
	case domain.GetChannelsRequest, domain.GetChannelRequest, domain.GetBatteryInfoRequest:
		// reads only see committed values
		a.handleQuery(ctx, msg)
	default:
		a.logger.Debug("cycle@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}

func alignedWith(plan regmap.Plan, results regmap.Results) bool {
	return len(plan.Writes) == len(results.Writes) && len(plan.Reads) == len(results.Reads)
}

func (a *CycleActor) startCycle(ctx actor.Context) {
	now := time.Now()
	a.device.OnBeforePoll(now)
	plan := a.device.Protocol().Plan()
	a.logger.Debug("cycle@idle: tick", zap.Int("writes", len(plan.Writes)), zap.Int("reads", len(plan.Reads)))

	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.modbusActor, domain.ExecutePlanRequest{Plan: plan}, a.timeout), func(err error) any {
		return domain.ExecutePlanResponse{
			ActorResponseMixIn: domain.ResponseError(fmt.Errorf("cycle timeout: %w", err)),
			Results:            regmap.FailedResults(plan, err),
		}
	})
	a.BecomeStacked(cyclePollingState{actor: a, plan: plan, start: now})
}

func (a *CycleActor) finishCycle(ctx actor.Context, plan regmap.Plan, results regmap.Results, start time.Time) {
	report := a.device.Protocol().Apply(plan, results)
	if report.Failed > 0 {
		a.logger.Warn("cycle: register tasks failed", zap.Int("failed", report.Failed), zap.Error(report.Err()))
	}
	now := time.Now()
	a.device.OnAfterPoll(now, report)
	a.cycles++

	elapsed := now.Sub(start)
	a.metrics.ObserveCycle(report.Succeeded, report.Failed, elapsed)
	a.updateGauges()
	a.publish()

	next := a.interval - elapsed
	if next < 0 {
		next = 0
	}
	a.scheduler.RequestOnce(next, ctx.Self(), cycleTick{})
}

func (a *CycleActor) updateGauges() {
	if a.metrics == nil {
		return
	}
	a.metrics.Channels.Set(float64(a.device.Channels().Len()))
	a.metrics.StateMachine.Set(float64(a.device.State()))
	a.metrics.Towers.Set(float64(a.device.Info().Towers))
}

func (a *CycleActor) publish() {
	if a.eventStream == nil {
		return
	}
	for _, ev := range a.tracker.Collect(a.device.Channels()) {
		a.eventStream.Publish(ev)
	}
	if target := a.device.StartStopTarget(); target != a.lastTarget {
		a.lastTarget = target
		a.eventStream.Publish(events.BatteryRunSwitchUpdateEvent(target))
	}
}

func (a *CycleActor) health(stateName string) domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_CYCLE,
		Healthy: a.cycles > 0 || stateName == cyclePollingState{}.Name(),
		State:   stateName,
	}
}

// handleQuery serves channel queries and control requests.
func (a *CycleActor) handleQuery(ctx actor.Context, msg any) {
	tbl := a.device.Channels()
	switch req := msg.(type) {
	case domain.GetChannelsRequest:
		ForRequest(req).Respond(ctx, domain.GetChannelsResponse{Channels: events.ChannelViews(tbl)})
	case domain.GetChannelRequest:
		resp := domain.GetChannelResponse{}
		if id, ok := tbl.Lookup(req.Name); ok {
			resp.Channel, _ = events.ChannelView(tbl, id)
		} else {
			resp.ResponseError = fmt.Errorf("%w: %s", channel.ErrUnknownChannel, req.Name)
		}
		ForRequest(req).Respond(ctx, resp)
	case domain.GetBatteryInfoRequest:
		ForRequest(req).Respond(ctx, domain.GetBatteryInfoResponse{Info: a.device.Info()})
	case domain.SetStartStopRequest:
		a.logger.Info("cycle@idle: SetStartStopRequest", zap.Stringer("target", req.Target))
		err := a.device.SetStartStop(req.Target)
		ForRequest(req).Respond(ctx, domain.SetStartStopResponse{
			ActorResponseMixIn: domain.ResponseError(err),
			Target:             a.device.StartStopTarget(),
		})
	case domain.SetChannelRequest:
		a.logger.Info("cycle@idle: SetChannelRequest", zap.String("channel", req.Name), zap.Any("value", req.Value))
		st, err := a.setChannel(req.Name, req.Value)
		if err != nil {
			a.logger.Warn("cycle@idle: SetChannelRequest rejected", zap.String("channel", req.Name), zap.Error(err))
		}
		ForRequest(req).Respond(ctx, domain.SetChannelResponse{
			ActorResponseMixIn: domain.ResponseError(err),
			Channel:            st,
		})
	default:
		a.logger.Debug("cycle@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (a *CycleActor) setChannel(name string, value any) (domain.ChannelState, error) {
	tbl := a.device.Channels()
	id, ok := tbl.Lookup(name)
	if !ok {
		return domain.ChannelState{}, fmt.Errorf("%w: %s", channel.ErrUnknownChannel, name)
	}
	desc, _ := tbl.Descriptor(id)
	if value == nil {
		return domain.ChannelState{}, errors.New("missing value")
	}
	v, err := channel.FromAny(desc.Kind, value)
	if err != nil {
		return domain.ChannelState{}, err
	}
	if err := tbl.ProposeWrite(id, v); err != nil {
		return domain.ChannelState{}, err
	}
	st, _ := events.ChannelView(tbl, id)
	return st, nil
}
