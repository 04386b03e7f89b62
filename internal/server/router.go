package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/logging"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
	// BodyLimit caps request bodies for cache and version writes; 0 keeps Fiber's default.
	BodyLimit int
}

const contextKeyRequestID = "_tiercache_request_id"

// NewApp builds a Fiber application with request id, access logging and
// structured error handling. Routes are attached by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	// 路由参数与查询值会作为 key、tag 长期保存，必须脱离 fasthttp 的复用缓冲区。
	cfg := fiber.Config{
		CaseSensitive: true,
		Immutable:     true,
		ErrorHandler:  errorHandler(opts.Logger),
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isAdminPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "route_not_found",
		})
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}
		entry := opts.Logger.WithFields(logging.RequestFields(reqID, c.Method(), c.Path(), status, time.Since(started)))
		entry = entry.WithField("action", "http_request")
		if err != nil {
			entry.WithError(err).Warn("request failed")
		} else {
			entry.Debug("request served")
		}
		return err
	}
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := errorStatus(err)
		message := "internal_error"
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			message = strings.ReplaceAll(strings.ToLower(fiberErr.Message), " ", "_")
		}
		if code >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "http_error",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).WithError(err).Error("unhandled error")
		}
		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}

func errorStatus(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isAdminPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
