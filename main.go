package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/20lawsobk/maxbooster7.5-sub001/internal/config"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/engine"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/logging"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/predictor"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/server"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/server/routes"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/vault"
	"github.com/20lawsobk/maxbooster7.5-sub001/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 15 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logging.Close(logger)

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for k, v := range startupFields(cfg) {
			fields[k] = v
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → vault → 引擎初始化 → Fiber server，关闭顺序相反。
	app, eng, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化引擎失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	for k, v := range startupFields(cfg) {
		fields[k] = v
	}
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	code := 0
	if err := serve(ctx, app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		code = 1
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil {
		fmt.Fprintf(stdErr, "关闭引擎失败: %v\n", err)
		code = 1
	}
	return code
}

// buildApp 打开 vault、初始化引擎并挂载全部路由。
func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*fiber.App, *engine.Engine, error) {
	vaultOpts, err := cfg.VaultOptions()
	if err != nil {
		return nil, nil, err
	}
	v, err := vault.Open(vaultOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("打开 vault 失败: %w", err)
	}

	eng, err := engine.New(cfg.EngineOptions(), v, logger)
	if err != nil {
		_ = vault.Close(v)
		return nil, nil, err
	}
	if err := eng.Initialize(ctx); err != nil {
		_ = eng.Close(context.Background())
		return nil, nil, err
	}

	var loader predictor.Loader
	if cfg.Global.PrefetchOrigin != "" {
		loader, err = server.OriginLoader(server.NewOriginClient(cfg), cfg.Global.PrefetchOrigin)
		if err != nil {
			_ = eng.Close(context.Background())
			return nil, nil, err
		}
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = eng.Close(context.Background())
		return nil, nil, err
	}
	routes.Register(app, eng, loader)
	return app, eng, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tiercache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TIERCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TIERCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startupFields(cfg *config.Config) logrus.Fields {
	return logging.StartupFields(
		cfg.Global.CacheStrategy,
		cfg.Vault.Backend,
		cfg.Global.CompressionLevel,
		cfg.Vault.AuthMode(),
	)
}

// serve 监听端口直到 ctx 结束，然后优雅关闭。
func serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，停止 HTTP 服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}
