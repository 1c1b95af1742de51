package httpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ncecere/voice_gateway/internal/app"
	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/httpserver/httputil"
	publicroutes "github.com/ncecere/voice_gateway/internal/httpserver/public"
	"github.com/ncecere/voice_gateway/internal/redisclient"
)

// Server wraps the Fiber app and configuration.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *app.Container
}

// New constructs a server with baseline middleware ready.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}

	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}

	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "voice-gateway",
		BodyLimit:             bodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ReadBufferSize:        8 * 1024,
		WriteBufferSize:       8 * 1024,
		ErrorHandler:          errorHandler,
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	if container.Observability != nil {
		app.Use(func(c *fiber.Ctx) error {
			start := time.Now()
			err := c.Next()
			route := ""
			if r := c.Route(); r != nil {
				route = r.Path
			}
			if route == "" {
				route = utils.CopyString(c.Path())
			}
			// Method and Path alias pooled request buffers; labels outlive the request.
			method := utils.CopyString(c.Method())
			container.Observability.RecordHTTPRequest(c.UserContext(), method, route, c.Response().StatusCode(), time.Since(start))
			return err
		})
	}

	if container.Observability != nil && container.Observability.TracerProvider() != nil {
		tracer := otel.Tracer("voice-gateway/http")
		app.Use(func(c *fiber.Ctx) error {
			spanCtx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path())
			c.SetUserContext(spanCtx)
			err := c.Next()
			route := ""
			if r := c.Route(); r != nil {
				route = r.Path
			}
			span.SetAttributes(
				attribute.String("http.method", utils.CopyString(c.Method())),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", c.Response().StatusCode()),
			)
			if id := c.GetRespHeader(httputil.HeaderJobID); id != "" {
				span.SetAttributes(attribute.String("voice.job_id", utils.CopyString(id)))
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else if status := c.Response().StatusCode(); status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
			} else {
				span.SetStatus(codes.Ok, "OK")
			}
			span.End()
			return err
		})
	}

	if container.Observability != nil {
		if handler := container.Observability.PrometheusHandler(); handler != nil {
			app.Get("/metrics", adaptor.HTTPHandler(handler))
		}
	}

	registerHealthRoutes(app, container)
	publicroutes.Register(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}, nil
}

// App exposes the underlying fiber app, mainly for in-process tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks until context cancellation or a fatal listen error occurs.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.Server.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.GracefulShutdownDelay
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.app.ShutdownWithContext(shutdownCtx)
		if err == nil {
			err = <-errCh
		}
		return err
	case err := <-errCh:
		return err
	}
}

// errorHandler renders framework errors (unknown routes, oversized bodies,
// recovered panics) with the same envelope as handler errors.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return httputil.WriteStatus(c, fe.Code, fe.Message)
	}
	return httputil.WriteError(c, err)
}

// registerHealthRoutes mounts the process liveness probe. Backend readiness
// lives under /api/health.
func registerHealthRoutes(router fiber.Router, container *app.Container) {
	router.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]fiber.Map)
		overall := "ok"

		if container.Redis != nil {
			start := time.Now()
			err := redisclient.Ping(ctx, container.Redis)
			check := fiber.Map{
				"status":     "ok",
				"latency_ms": time.Since(start).Milliseconds(),
			}
			if err != nil {
				check["status"] = "error"
				check["error"] = err.Error()
				overall = "degraded"
			}
			checks["redis"] = check
		}

		if container.Events != nil {
			check := fiber.Map{"status": "ok"}
			if !container.Events.Healthy() {
				check["status"] = "error"
				overall = "degraded"
			}
			checks["nats"] = check
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  overall,
			"version": app.Version,
			"checks":  checks,
		})
	})
}
