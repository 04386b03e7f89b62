package routes

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/versions"
)

// RegisterVersionRoutes 暴露版本存储的保存、读取、历史与比较接口。
func RegisterVersionRoutes(app *fiber.App, eng *engine.Engine) {
	if app == nil || eng == nil {
		return
	}

	app.Post("/-/versions/data/*", func(c fiber.Ctx) error {
		entry, err := eng.SaveVersion(c.Context(), c.Params("*"), c.Body(), versions.SaveOptions{
			CreatedBy:   c.Get("X-Created-By"),
			Description: c.Query("description"),
		})
		if err != nil {
			return renderError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(encodeVersion(entry.ResourceID, entry.Version, entry.Meta))
	})

	app.Get("/-/versions/data/*", func(c fiber.Ctx) error {
		version, err := parseVersion(c.Query("version"))
		if err != nil {
			return badRequest(c, "invalid_version")
		}
		entry, err := eng.GetVersion(c.Context(), c.Params("*"), version)
		if err != nil {
			return renderError(c, err)
		}
		if entry == nil {
			return notFound(c, "version_not_found")
		}
		c.Set("X-Version", strconv.Itoa(entry.Version))
		c.Set("X-Checksum", entry.Meta.Checksum)
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		return c.Send(entry.Data)
	})

	app.Get("/-/versions/history/*", func(c fiber.Ctx) error {
		id := c.Params("*")
		items, err := eng.GetVersionHistory(c.Context(), id)
		if err != nil {
			return renderError(c, err)
		}
		result := make([]versionPayload, 0, len(items))
		for _, item := range items {
			result = append(result, encodeVersion(id, item.Version, item.Meta))
		}
		return c.JSON(fiber.Map{"resource_id": id, "versions": result})
	})

	app.Get("/-/versions/compare/*", func(c fiber.Ctx) error {
		v1, err1 := parseVersion(c.Query("v1"))
		v2, err2 := parseVersion(c.Query("v2"))
		if err1 != nil || err2 != nil || v1 <= 0 || v2 <= 0 {
			return badRequest(c, "invalid_version")
		}
		cmp, err := eng.CompareVersions(c.Context(), c.Params("*"), v1, v2)
		if err != nil {
			return renderError(c, err)
		}
		if cmp == nil {
			return notFound(c, "version_not_found")
		}
		return c.JSON(cmp)
	})
}

type versionPayload struct {
	ResourceID  string `json:"resource_id"`
	Version     int    `json:"version"`
	CreatedAt   string `json:"created_at"`
	CreatedBy   string `json:"created_by,omitempty"`
	Description string `json:"description,omitempty"`
	Size        int    `json:"size"`
	Checksum    string `json:"checksum"`
}

func encodeVersion(id string, version int, meta versions.Meta) versionPayload {
	return versionPayload{
		ResourceID:  id,
		Version:     version,
		CreatedAt:   meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		CreatedBy:   meta.CreatedBy,
		Description: meta.Description,
		Size:        meta.Size,
		Checksum:    meta.Checksum,
	}
}

// parseVersion 把空值解析为 0（最新版本）。
func parseVersion(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
