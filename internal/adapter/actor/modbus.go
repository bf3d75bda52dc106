package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/internal/metrics"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"
	"github.com/berfenger/homebattery2mqtt/pkg/battery_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ModbusActor owns the Modbus connection and executes the register plans of the cycle actor one at a time.
type ModbusActor struct {
	actorutil.ActorWithStates
	stash   *actorutil.Stash
	session *modbusSession
	timeout time.Duration
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// modbusSession serializes access to the client. A task abandoned after its timeout may still hold it while
// the next plan waits.
type modbusSession struct {
	mu        sync.Mutex
	client    battery_modbus.RegisterClient
	transport RegisterTransport
	open      bool
	logger    *zap.Logger
	metrics   *metrics.AppMetrics
}

type modbusTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewModbusActor(client battery_modbus.RegisterClient, timeout time.Duration, m *metrics.AppMetrics, logger *zap.Logger) *ModbusActor {
	act := &ModbusActor{
		ActorWithStates: actorutil.ActorWithStates{Behavior: actor.NewBehavior()},
		stash:           &actorutil.Stash{},
		timeout:         timeout,
		metrics:         m,
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger),
	}
	act.session = &modbusSession{
		client:    client,
		transport: NewRegisterTransport(client),
		logger:    act.logger,
		metrics:   m,
	}
	act.Become(modbusIdleState{actor: act})
	return act
}

func (state *ModbusActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Idle state

type modbusIdleState struct {
	actor *ModbusActor
}

func (state modbusIdleState) Name() string {
	return "idle"
}

func (state modbusIdleState) Receive(ctx actor.Context) {
	a := state.actor
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.logger.Debug("modbus@idle: started")
		if err := a.session.connect(); err != nil {
			// the BMS gateway may come up later, every plan retries the connection
			a.logger.Warn("modbus@idle: initial connection failed", zap.Error(err))
		}
	case *actor.Stopping, *actor.Restarting:
		a.session.close()
	case domain.ActorHealthRequest:
		a.logger.Debug("modbus@idle: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.ExecutePlanRequest:
		a.logger.Debug("modbus@idle: ExecutePlanRequest",
			zap.Int("writes", len(msg.Plan.Writes)), zap.Int("reads", len(msg.Plan.Reads)))
		replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
		plan := msg.Plan
		actorutil.NewBackgroundTaskCtx(ctx, func(runCtx context.Context) (*modbusTaskResult, error) {
			resp := a.session.execute(runCtx, plan)
			return &modbusTaskResult{message: resp, replyTo: replyTo}, nil
		}).WithTimeout(a.timeout).Recover(func(err error) modbusTaskResult {
			return modbusTaskResult{
				message: domain.ExecutePlanResponse{
					ActorResponseMixIn: domain.ResponseError(fmt.Errorf("execute plan: %w", err)),
					Results:            regmap.FailedResults(plan, err),
				},
				replyTo: replyTo,
			}
		}).PipeTo(ctx.Self())
		a.BecomeStacked(modbusBusyState{actor: a})
	case domain.ReconnectRequest:
		a.logger.Info("modbus@idle: reconnect requested")
		replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.NewBackgroundTaskCtx(ctx, func(context.Context) (*modbusTaskResult, error) {
			err := a.session.reconnect()
			a.metrics.ObserveReconnect()
			return &modbusTaskResult{
				message: domain.ReconnectResponse{ActorResponseMixIn: domain.ResponseError(err)},
				replyTo: replyTo,
			}, nil
		}).WithTimeout(a.timeout).Recover(func(err error) modbusTaskResult {
			return modbusTaskResult{
				message: domain.ReconnectResponse{ActorResponseMixIn: domain.ResponseError(err)},
				replyTo: replyTo,
			}
		}).PipeTo(ctx.Self())
		a.BecomeStacked(modbusBusyState{actor: a})
	default:
		a.logger.Debug("modbus@idle: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Busy state

type modbusBusyState struct {
	actor *ModbusActor
}

func (state modbusBusyState) Name() string {
	return "busy"
}

func (state modbusBusyState) Receive(ctx actor.Context) {
	a := state.actor
	switch msg := ctx.Message().(type) {
	case modbusTaskResult:
		a.logger.Debug("modbus@busy: task result", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		a.UnbecomeStacked()
		if n := a.stash.Len(); n > 0 {
			a.logger.Debug("modbus@busy: unstash", zap.Int("messages", n))
		}
		a.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   state.Name(),
		})
	case *actor.Stopping:
		a.session.close()
	default:
		a.logger.Debug("modbus@busy: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		a.stash.Stash(ctx, msg)
	}
}

func (s *modbusSession) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *modbusSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// reconnect drops and reopens the connection.
func (s *modbusSession) reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.connectLocked()
}

func (s *modbusSession) connectLocked() error {
	if s.open {
		return nil
	}
	if err := s.client.Open(); err != nil {
		return fmt.Errorf("modbus open: %w", err)
	}
	s.open = true
	s.logger.Info("modbus: connected")
	return nil
}

func (s *modbusSession) closeLocked() {
	if !s.open {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("modbus: close failed", zap.Error(err))
	}
	s.open = false
}

// execute runs the plan. A plan in which every request failed drops the connection so that the next plan
// reconnects.
func (s *modbusSession) execute(ctx context.Context, plan regmap.Plan) domain.ExecutePlanResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	// the plan expired while an abandoned task held the session
	if err := ctx.Err(); err != nil {
		return domain.ExecutePlanResponse{
			ActorResponseMixIn: domain.ResponseError(err),
			Results:            regmap.FailedResults(plan, err),
		}
	}
	if err := s.connectLocked(); err != nil {
		return domain.ExecutePlanResponse{
			ActorResponseMixIn: domain.ResponseError(err),
			Results:            regmap.FailedResults(plan, err),
			Duration:           time.Since(start),
		}
	}
	results := regmap.Execute(ctx, s.transport, plan)

	ok, failed := 0, 0
	var lastErr error
	for _, err := range results.Writes {
		if err != nil {
			failed++
			lastErr = err
		} else {
			ok++
		}
	}
	for _, r := range results.Reads {
		if r.Err != nil {
			failed++
			lastErr = r.Err
		} else {
			ok++
		}
	}
	resp := domain.ExecutePlanResponse{Results: results, Duration: time.Since(start)}
	if ok == 0 && failed > 0 {
		s.logger.Warn("modbus: every request failed, dropping connection", zap.Error(lastErr))
		s.closeLocked()
		resp.ResponseError = errors.Join(errors.New("all requests failed"), lastErr)
	}
	return resp
}
