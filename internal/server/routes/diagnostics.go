package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/strategy"
)

// RegisterDiagnosticsRoutes 暴露 /-/health、/-/status、/-/metrics 与 /-/strategies 诊断接口。
func RegisterDiagnosticsRoutes(app *fiber.App, eng *engine.Engine) {
	if app == nil || eng == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		if !eng.Status().Initialized {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(eng.Status())
	})

	app.Get("/-/metrics", func(c fiber.Ctx) error {
		return c.JSON(eng.Metrics())
	})

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		active := eng.Profile()
		return c.JSON(fiber.Map{
			"active":     encodeProfile(active),
			"strategies": encodeProfiles(strategy.List()),
		})
	})
}

type profilePayload struct {
	Key          string  `json:"key"`
	Description  string  `json:"description"`
	TTLSeconds   int64   `json:"ttl_seconds"`
	SweepSeconds int64   `json:"sweep_seconds"`
	LowWatermark float64 `json:"low_watermark"`
}

func encodeProfiles(profiles []strategy.Profile) []profilePayload {
	if len(profiles) == 0 {
		return nil
	}
	result := make([]profilePayload, 0, len(profiles))
	for _, p := range profiles {
		result = append(result, encodeProfile(p))
	}
	return result
}

func encodeProfile(p strategy.Profile) profilePayload {
	return profilePayload{
		Key:          string(p.Key),
		Description:  p.Description,
		TTLSeconds:   int64(p.DefaultTTL / time.Second),
		SweepSeconds: int64(p.SweepInterval / time.Second),
		LowWatermark: p.LowWatermark,
	}
}
