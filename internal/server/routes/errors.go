package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/cache"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/versions"
)

// statusClientClosedRequest 沿用 nginx 的 499，表示客户端在响应前断开。
const statusClientClosedRequest = 499

// renderError 将引擎错误映射为 HTTP 状态与稳定的错误码。
func renderError(c fiber.Ctx, err error) error {
	var integrity *versions.IntegrityError
	switch {
	case errors.Is(err, engine.ErrNotInitialized):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "engine_not_initialized"})
	case errors.Is(err, cache.ErrInvalidKey), errors.Is(err, versions.ErrInvalidResource):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_key"})
	case errors.As(err, &integrity):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "integrity_error",
			"version": integrity.Version,
			"reason":  integrity.Reason,
		})
	case vault.IsTimeout(err):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "vault_timeout"})
	case vault.IsCanceled(err):
		return c.Status(statusClientClosedRequest).JSON(fiber.Map{"error": "request_canceled"})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "storage_error"})
	}
}

func badRequest(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": code})
}

func notFound(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": code})
}
