package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/predictor"
)

type accessRequest struct {
	User     string   `json:"user"`
	Resource string   `json:"resource"`
	Related  []string `json:"related"`
}

type prefetchRequest struct {
	User    string   `json:"user"`
	Current []string `json:"current"`
}

// RegisterAccessRoutes 暴露访问记录、预测与预取接口。loader 为 nil 时预取读取版本存储的最新版本。
func RegisterAccessRoutes(app *fiber.App, eng *engine.Engine, loader predictor.Loader) {
	if app == nil || eng == nil {
		return
	}

	app.Post("/-/access", func(c fiber.Ctx) error {
		var req accessRequest
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid_body")
		}
		if strings.TrimSpace(req.User) == "" || strings.TrimSpace(req.Resource) == "" {
			return badRequest(c, "user_and_resource_required")
		}
		if err := eng.RecordAccess(req.User, req.Resource, req.Related); err != nil {
			return renderError(c, err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Get("/-/predict", func(c fiber.Ctx) error {
		user := c.Query("user")
		current := splitList(c.Query("current"))
		predicted, err := eng.PredictNext(user, current)
		if err != nil {
			return renderError(c, err)
		}
		if predicted == nil {
			predicted = []string{}
		}
		return c.JSON(fiber.Map{"user": user, "predicted": predicted})
	})

	app.Post("/-/prefetch", func(c fiber.Ctx) error {
		var req prefetchRequest
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid_body")
		}
		load := loader
		if load == nil {
			fallback, err := eng.LatestVersionLoader()
			if err != nil {
				return renderError(c, err)
			}
			load = fallback
		}
		result, err := eng.PrefetchFor(c.Context(), req.User, req.Current, load)
		if err != nil {
			return renderError(c, err)
		}
		if result.Predicted == nil {
			result.Predicted = []string{}
		}
		return c.Status(fiber.StatusAccepted).JSON(result)
	})
}
