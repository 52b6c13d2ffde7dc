package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/spendoodle/shellcache/internal/cache"
	"github.com/spendoodle/shellcache/internal/config"
	"github.com/spendoodle/shellcache/internal/host"
	"github.com/spendoodle/shellcache/internal/logging"
	"github.com/spendoodle/shellcache/internal/proxy"
	"github.com/spendoodle/shellcache/internal/server"
	"github.com/spendoodle/shellcache/internal/server/routes"
	"github.com/spendoodle/shellcache/internal/version"
	"github.com/spendoodle/shellcache/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	ephemeral   bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

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

	cfg, err := loadConfig(opts)
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
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache"] = cfg.App.CacheName
		fields["origin"] = cfg.App.Origin
		fields["backend"] = cfg.Global.StoreBackend
		fields["precache"] = len(cfg.App.Precache)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 存储 → worker 安装/激活 → 配置热加载 → Fiber server。
	// worker 安装失败不会阻止服务启动，此时所有请求直接透传。
	a, err := newApplication(ctx, cfg, opts.configPath, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化失败: %v\n", err)
		return 1
	}
	defer a.close()

	if err := config.Watch(opts.configPath, a.reload); err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("watch_config", opts.configPath)).Warn("配置热加载不可用")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["cache"] = cfg.App.CacheName
	fields["origin"] = cfg.App.Origin
	fields["backend"] = cfg.Global.StoreBackend
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := a.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.ephemeral {
		cfg.Global.StoreBackend = string(cache.BackendMemory)
	}
	return cfg, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		ephemeral  bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&ephemeral, "ephemeral", false, "使用内存存储，进程退出后缓存即丢弃")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELLCACHE_CONFIG")
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
		ephemeral:   ephemeral,
	}, nil
}

// application 持有进程生命周期内共享的组件。
type application struct {
	cfg     *config.Config
	logger  *logrus.Logger
	storage cache.Storage
	client  *http.Client
	runtime *host.Runtime
	app     *fiber.App
	ctx     context.Context
	path    string

	mu         sync.Mutex
	generation string
}

func newApplication(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) (*application, error) {
	storage, err := cache.NewStorage(cache.Options{
		Backend:     cache.Backend(cfg.Global.StoreBackend),
		StoragePath: cfg.Global.StoragePath,
		RedisAddr:   cfg.Global.RedisAddr,
		RedisPrefix: cfg.Global.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	a := &application{
		cfg:     cfg,
		logger:  logger,
		storage: storage,
		client:  server.NewUpstreamClient(cfg.Global),
		runtime: host.NewRuntime(logger),
		ctx:     ctx,
		path:    configPath,
	}

	origin := cfg.App.OriginURL()
	proxyHandler := proxy.NewHandler(a.client, logger, a.runtime, origin)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxyHandler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	routes.RegisterDiagnostics(app, routes.Diagnostics{
		Runtime: a.runtime,
		Storage: storage,
		Origin:  cfg.App.Origin,
		Backend: cfg.Global.StoreBackend,
		Started: time.Now(),
	})
	a.app = app

	a.install(cfg.App)
	return a, nil
}

// install 为 App 段创建新 worker 并交给 runtime；失败只记录日志。
func (a *application) install(appCfg config.AppConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	gen := appCfg.Generation()
	if gen == a.generation {
		return
	}

	fields := logging.BaseFields("install", a.path)
	fields["cache"] = appCfg.CacheName

	w, err := worker.New(worker.Options{
		CacheName:       appCfg.CacheName,
		Origin:          appCfg.OriginURL(),
		Manifest:        appCfg.Precache,
		FontHostMarkers: appCfg.FontHostMarkers,
		Storage:         a.storage,
		Network:         a.client,
		Signals:         a.runtime.Signals(appCfg.SkipWaiting),
		Logger:          a.logger,
	})
	if err != nil {
		a.logger.WithError(err).WithFields(fields).Error("worker 创建失败")
		return
	}
	if err := a.runtime.Register(a.ctx, w); err != nil {
		a.logger.WithError(err).WithFields(fields).Warn("worker 安装失败，沿用当前版本")
		return
	}
	a.generation = gen
}

// reload 是配置热加载回调：仅 App 段的缓存世代变化时才安装新 worker。
// 进程级参数（端口、存储后端、日志）需要重启才会生效。
func (a *application) reload(cfg *config.Config, err error) {
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{"action": "reload"}).Warn("配置重新加载失败，保持现有配置")
		return
	}
	if cfg.App.Origin != a.cfg.App.Origin {
		a.logger.WithFields(logrus.Fields{
			"action": "reload",
			"origin": cfg.App.Origin,
		}).Warn("Origin 变更需要重启服务")
		return
	}
	a.install(cfg.App)
}

func (a *application) serve(ctx context.Context) error {
	port := a.cfg.Global.ListenPort
	errCh := make(chan error, 1)
	go func() {
		a.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- a.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号")
	if err := a.app.ShutdownWithTimeout(10 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (a *application) close() {
	a.runtime.Shutdown()
	if err := a.storage.Close(); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{"action": "shutdown"}).Warn("关闭缓存存储失败")
	}
}
