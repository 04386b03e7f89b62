package routes

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/cache"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
)

// RegisterCacheRoutes 暴露 /-/cache/* 读写失效接口与 /-/tags/:tag 标签接口。
func RegisterCacheRoutes(app *fiber.App, eng *engine.Engine) {
	if app == nil || eng == nil {
		return
	}

	app.Get("/-/cache/*", func(c fiber.Ctx) error {
		key := c.Params("*")
		data, ok, err := eng.Get(c.Context(), key)
		if err != nil {
			return renderError(c, err)
		}
		if !ok {
			return notFound(c, "cache_miss")
		}
		contentType := fiber.MIMEOctetStream
		if entry, resident, _ := eng.Peek(key); resident && entry.ContentType != "" {
			contentType = entry.ContentType
		}
		c.Set(fiber.HeaderContentType, contentType)
		return c.Send(data)
	})

	app.Put("/-/cache/*", func(c fiber.Ctx) error {
		key := c.Params("*")
		ttl, err := parseTTL(c.Query("ttl"))
		if err != nil {
			return badRequest(c, "invalid_ttl")
		}
		opts := cache.SetOptions{
			ContentType: string(c.Request().Header.ContentType()),
			TTL:         ttl,
			Tags:        splitList(c.Query("tags")),
		}
		if err := eng.Set(c.Context(), key, c.Body(), opts); err != nil {
			return renderError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/cache/*", func(c fiber.Ctx) error {
		if err := eng.Invalidate(c.Context(), c.Params("*")); err != nil {
			return renderError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/tags/:tag", func(c fiber.Ctx) error {
		tag := c.Params("tag")
		keys, err := eng.TagKeys(tag)
		if err != nil {
			return renderError(c, err)
		}
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(fiber.Map{"tag": tag, "keys": keys})
	})

	app.Delete("/-/tags/:tag", func(c fiber.Ctx) error {
		tag := c.Params("tag")
		count, err := eng.InvalidateByTag(c.Context(), tag)
		if err != nil && count == 0 {
			return renderError(c, err)
		}
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":       "storage_error",
				"invalidated": count,
			})
		}
		return c.JSON(fiber.Map{"tag": tag, "invalidated": count})
	})
}

// parseTTL 接受 Go duration、纯秒数或 never；空值表示沿用策略默认 TTL。
func parseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return 0, nil
	case "never", "-1":
		return cache.NoExpiry, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d, nil
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 0, strconv.ErrSyntax
	}
	return time.Duration(seconds) * time.Second, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
