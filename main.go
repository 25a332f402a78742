package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/ticks-app/ticks/internal/banner"
	"github.com/ticks-app/ticks/internal/cache"
	"github.com/ticks-app/ticks/internal/config"
	"github.com/ticks-app/ticks/internal/kv"
	"github.com/ticks-app/ticks/internal/logging"
	"github.com/ticks-app/ticks/internal/metrics"
	"github.com/ticks-app/ticks/internal/offline"
	"github.com/ticks-app/ticks/internal/proxy"
	"github.com/ticks-app/ticks/internal/server"
	"github.com/ticks-app/ticks/internal/server/routes"
	"github.com/ticks-app/ticks/internal/version"
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

const startupInstallTimeout = 30 * time.Second

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

	if opts.checkOnly {
		fields := configSummary(cfg, "check_config", opts.configPath)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 指标 → 缓存存储 → 生命周期宿主 → 横幅存储 → Fiber server。
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, err := buildCacheStore(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	fetcher, err := offline.NewOriginFetcher(httpClient, cfg.Offline.Origin)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化源站失败: %v\n", err)
		return 1
	}
	host, err := offline.NewHost(offline.OptionsFromConfig(cfg.Offline), store, fetcher, logger, m)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化离线宿主失败: %v\n", err)
		return 1
	}
	if cfg.Offline.InstallOnStartup {
		installOnStartup(host, logger)
	}

	kvStore, err := kv.Open(cfg.Banner, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化横幅存储失败: %v\n", err)
		return 1
	}
	defer kvStore.Close()
	bannerSvc, err := banner.NewService(kvStore, cfg.Banner, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化横幅服务失败: %v\n", err)
		return 1
	}

	proxyHandler, err := proxy.NewHandler(httpClient, cfg.Proxy, logger, m)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 API 代理失败: %v\n", err)
		return 1
	}
	if !cfg.Proxy.HasAPIKey() {
		logger.WithFields(logrus.Fields{"action": "startup"}).
			Warn("TICKETMASTER_API_KEY 未配置，活动接口将被上游拒绝")
	}

	fields := configSummary(cfg, "startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	deps := serverDeps{
		host:     host,
		proxy:    proxyHandler,
		banner:   bannerSvc,
		registry: registry,
	}
	if err := startHTTPServer(cfg, deps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("ticks", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TICKS_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TICKS_CONFIG")
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

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

func configSummary(cfg *config.Config, action, configPath string) logrus.Fields {
	fields := logging.BaseFields(action, configPath)
	fields["origin"] = cfg.Offline.Origin
	fields["offline_version"] = cfg.Offline.Version
	fields["partitions"] = cfg.Offline.Partitions()
	fields["cache_store"] = cfg.Offline.Store
	fields["banner_backend"] = cfg.Banner.Backend
	fields["api_key"] = cfg.Proxy.HasAPIKey()
	return fields
}

func buildCacheStore(cfg *config.Config) (cache.Store, error) {
	if cfg.Offline.Store == config.StoreMemory {
		return cache.NewMemoryStore(), nil
	}
	return cache.NewStore(filepath.Join(cfg.Global.StoragePath, "offline"))
}

// installOnStartup 在启动时安装并激活当前版本；源站不可用时只记录日志，
// 宿主会先以直连方式服务请求，之后可通过 /-/lifecycle/install 重试。
func installOnStartup(host *offline.Host, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), startupInstallTimeout)
	defer cancel()
	if err := host.Update(ctx); err != nil {
		logger.WithFields(logrus.Fields{"action": "install"}).
			WithError(err).Warn("启动安装失败，将以直连模式运行")
	}
}

type serverDeps struct {
	host     *offline.Host
	proxy    *proxy.Handler
	banner   *banner.Service
	registry *prometheus.Registry
}

func startHTTPServer(cfg *config.Config, deps serverDeps, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetch:      deps.host,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	proxy.Register(app, deps.proxy)
	banner.Register(app, deps.banner)
	routes.RegisterDiagnostics(app, deps.host, deps.registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，停止 Fiber 服务")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
