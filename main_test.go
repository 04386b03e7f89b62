package main

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("TIERCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %q", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "tiercache") {
		t.Fatalf("version 输出应包含 tiercache 标识")
	}
	if !strings.Contains(stdOutBuffer().String(), "balanced") {
		t.Fatalf("version 输出应列出策略档位")
	}
}

func TestBuildAppServesDiagnostics(t *testing.T) {
	cfgPath := writeConfigFile(t, `
ListenPort = 5055
CacheStrategy = "aggressive"

[Vault]
Backend = "memory"
`)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, eng, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	resp, err := app.Test(httptest.NewRequest("GET", "http://cache.local/-/status", nil))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"strategy":"aggressive"`) {
		t.Fatalf("状态接口异常: %d %s", resp.StatusCode, body)
	}
}

func TestBuildAppRejectsUnreachableVaultPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	cfgPath := writeConfigFile(t, fmt.Sprintf(`
[Vault]
Backend = "fs"
Path = "%s"
`, filepath.Join(file, "storage")))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if _, _, err := buildApp(context.Background(), cfg, logger); err == nil {
		t.Fatalf("vault 目录不可用时应失败")
	}
}
