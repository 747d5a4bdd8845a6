package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/talkincode/keyshop/config"
	"go.uber.org/zap"
)

const (
	apiPrefix   = "/api/v1"
	adminPrefix = "/api/v1/admin"
)

// Server is the shop HTTP server: a public API group and an admin group
// guarded by the middleware handed to New.
type Server struct {
	root  *echo.Echo
	api   *echo.Group
	admin *echo.Group
	cfg   config.WebConfig
}

func New(cfg config.WebConfig, adminAuth ...echo.MiddlewareFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.JSONSerializer = JSONSerializer{}
	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			zap.L().Error("panic recovered", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
				zap.String("remote_ip", v.RemoteIP))
			return nil
		},
	}))

	s := &Server{root: e, cfg: cfg}
	s.api = e.Group(apiPrefix)
	s.admin = e.Group(adminPrefix, adminAuth...)
	return s
}

// Echo exposes the underlying router, mostly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.root
}

func (s *Server) ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.api.GET(path, h, m...)
}

func (s *Server) ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.api.POST(path, h, m...)
}

func (s *Server) AdminGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.admin.GET(path, h, m...)
}

func (s *Server) AdminPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.admin.POST(path, h, m...)
}

func (s *Server) AdminPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.admin.PUT(path, h, m...)
}

func (s *Server) AdminPATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.admin.PATCH(path, h, m...)
}

func (s *Server) AdminDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.admin.DELETE(path, h, m...)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	zap.S().Infof("Shop API listening on %s", addr)
	err := s.root.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.root.Shutdown(ctx)
}

// errorHandler renders errors that escaped the handlers, such as unknown
// routes or auth middleware rejections, in the common envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := err.(*echo.HTTPError)
	if !ok {
		_ = FailErr(c, err)
		return
	}
	code := "HTTP_ERROR"
	switch he.Code {
	case http.StatusNotFound:
		code = "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
	case http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case http.StatusForbidden:
		code = "FORBIDDEN"
	case http.StatusBadRequest:
		code = "VALIDATION_ERROR"
	case http.StatusRequestEntityTooLarge:
		code = "PAYLOAD_TOO_LARGE"
	}
	_ = Fail(c, he.Code, code, fmt.Sprint(he.Message), nil)
}
