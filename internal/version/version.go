package version

import (
	"fmt"
	"runtime"
)

// Version/Commit/BuildDate 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = ""
)

// Full 返回便于 CLI 打印的完整版本信息，包含构建所用的 Go 版本。
func Full() string {
	build := Commit
	if BuildDate != "" {
		build += ", " + BuildDate
	}
	return fmt.Sprintf("tiercache %s (%s, %s)", Version, build, runtime.Version())
}
