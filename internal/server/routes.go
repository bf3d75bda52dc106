package server

import (
	"errors"
	"net/http"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"github.com/berfenger/homebattery2mqtt/internal/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type setChannelBody struct {
	Value any `json:"value"`
}

type startStopBody struct {
	Target string `json:"target"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/info", s.InfoHandler)
	e.GET("/channels", s.ChannelsHandler)
	e.GET("/channels/:name", s.ChannelHandler)
	e.POST("/channels/:name", s.SetChannelHandler)
	e.PUT("/channels/:name", s.SetChannelHandler)
	e.PUT("/start-stop", s.StartStopHandler)
	if s.registry != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, s.timeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) InfoHandler(c echo.Context) error {
	res, err := s.request(domain.GetBatteryInfoRequest{})
	if err != nil {
		return unavailable(c, err)
	}
	resp, ok := res.(domain.GetBatteryInfoResponse)
	if !ok {
		return unavailable(c, errUnexpectedResponse)
	}
	return c.JSON(http.StatusOK, resp.Info)
}

func (s *Server) ChannelsHandler(c echo.Context) error {
	res, err := s.request(domain.GetChannelsRequest{})
	if err != nil {
		return unavailable(c, err)
	}
	resp, ok := res.(domain.GetChannelsResponse)
	if !ok {
		return unavailable(c, errUnexpectedResponse)
	}
	return c.JSON(http.StatusOK, resp.Channels)
}

func (s *Server) ChannelHandler(c echo.Context) error {
	res, err := s.request(domain.GetChannelRequest{Name: c.Param("name")})
	if err != nil {
		return unavailable(c, err)
	}
	resp, ok := res.(domain.GetChannelResponse)
	if !ok {
		return unavailable(c, errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, resp.Channel)
}

func (s *Server) SetChannelHandler(c echo.Context) error {
	var body setChannelBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
	}
	if body.Value == nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "missing value"})
	}
	if !s.writeLimiter.Allow() {
		return c.JSON(http.StatusTooManyRequests, errorBody{Error: "too many writes"})
	}
	res, err := s.request(domain.SetChannelRequest{Name: c.Param("name"), Value: body.Value})
	if err != nil {
		return unavailable(c, err)
	}
	resp, ok := res.(domain.SetChannelResponse)
	if !ok {
		return unavailable(c, errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	// the write goes out with the next cycle
	return c.JSON(http.StatusAccepted, resp.Channel)
}

func (s *Server) StartStopHandler(c echo.Context) error {
	var body startStopBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
	}
	target, err := statemachine.ParseTarget(body.Target)
	if err != nil || (target != statemachine.TargetStart && target != statemachine.TargetStop) {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "target must be START or STOP"})
	}
	res, err := s.request(domain.SetStartStopRequest{Target: target})
	if err != nil {
		return unavailable(c, err)
	}
	resp, ok := res.(domain.SetStartStopResponse)
	if !ok {
		return unavailable(c, errUnexpectedResponse)
	}
	if resp.HasResponseError() {
		return errorResponse(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusAccepted, startStopBody{Target: resp.Target.String()})
}

var errUnexpectedResponse = errors.New("unexpected response")

func (s *Server) request(msg any) (any, error) {
	return s.rootContext.RequestFuture(s.masterActor, msg, s.timeout).Result()
}

func unavailable(c echo.Context, err error) error {
	return c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
}

func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, channel.ErrUnknownChannel):
		return c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, channel.ErrReadOnly):
		return c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	default:
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
}
