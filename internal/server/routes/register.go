package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/predictor"
)

// Register 挂载全部管理与诊断接口。
func Register(app *fiber.App, eng *engine.Engine, loader predictor.Loader) {
	RegisterDiagnosticsRoutes(app, eng)
	RegisterCacheRoutes(app, eng)
	RegisterVersionRoutes(app, eng)
	RegisterAccessRoutes(app, eng, loader)
}
