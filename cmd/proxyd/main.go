package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"market-proxy-go/adapter"
	"market-proxy-go/brokers/angel"
	"market-proxy-go/brokers/kite"
	"market-proxy-go/bus"
	"market-proxy-go/config"
	"market-proxy-go/infrastructure/alert"
	"market-proxy-go/infrastructure/logger"
	"market-proxy-go/infrastructure/monitor"
	hotcfg "market-proxy-go/internal/config"
	"market-proxy-go/lookup"
	"market-proxy-go/metrics"
	"market-proxy-go/proxy"

	"github.com/coreos/go-systemd/v22/daemon"
)

func main() {
	cfgPath := flag.String("config", "configs/proxyd.yaml", "配置文件路径")
	addr := flag.String("addr", "", "覆盖 server.addr")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := config.ValidateParams(cfg); err != nil {
		log.Fatalf("配置参数非法: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	lg, err := logger.New(logger.Config{
		Level:      defaultStr(cfg.Log.Level, "info"),
		Outputs:    defaultOutputs(cfg.Log.Outputs),
		OutputFile: cfg.Log.OutputFile,
		ErrorFile:  cfg.Log.ErrorFile,
		Format:     defaultStr(cfg.Log.Format, "json"),
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	mon := monitor.New(monitor.DefaultConfig())

	// 告警：日志通道常开，webhook 按配置接入
	channels := []alert.Channel{alert.NewLogChannel("log", nil)}
	if cfg.Alert.Enabled && cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", cfg.Alert.WebhookURL))
	}
	throttle := 5 * time.Minute
	if cfg.Alert.ThrottleIntervalS > 0 {
		throttle = time.Duration(cfg.Alert.ThrottleIntervalS) * time.Second
	}
	alerts := alert.NewManager(channels, throttle)

	// 凭证/合约号查找：redis 可用时走 redis，否则进程内存（单机/联调）
	var (
		creds    lookup.CredentialStore
		symbols  lookup.SymbolLookup
		sessions lookup.SessionResolver
	)
	if cfg.Redis.Addr != "" {
		store := lookup.NewRedisStore(lookup.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  time.Duration(cfg.Redis.TimeoutMs) * time.Millisecond,
		})
		defer store.Close()
		creds, symbols, sessions = store, store, store
	} else {
		store := lookup.NewMemoryStore()
		creds, symbols, sessions = store, store, store
		lg.Warn("redis not configured, using in-memory lookup store")
	}

	tickBus := bus.New(cfg.Bus.Buffer)

	registry := adapter.NewRegistry()
	if bc, ok := cfg.Brokers[kite.BrokerName]; ok && bc.Enabled {
		registry.Register(kite.BrokerName, kite.New)
	}
	if bc, ok := cfg.Brokers[angel.BrokerName]; ok && bc.Enabled {
		registry.Register(angel.BrokerName, angel.New)
	}

	pool := adapter.NewPool(registry, adapter.Deps{
		Creds:   creds,
		Symbols: symbols,
		Bus:     tickBus,
		Logger:  lg,
		Monitor: mon,
	})
	pool.SetFailureHook(func(userID, broker string, err error) {
		_ = alerts.AdapterFailure(userID, broker, err)
	})

	if cfg.Metrics.Addr != "" {
		metricsSrv := metrics.StartMetricsServer(cfg.Metrics.Addr, mon.Handler())
		defer metricsSrv.Close()
	}

	server := proxy.NewServer(proxy.Config{
		Addr:          cfg.Server.Addr,
		QueueSize:     cfg.Server.QueueSize,
		WriteTimeout:  time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		PingInterval:  time.Duration(cfg.Server.PingIntervalMs) * time.Millisecond,
		PongTimeout:   time.Duration(cfg.Server.PongTimeoutMs) * time.Millisecond,
		ReadLimit:     cfg.Server.ReadLimit,
		CheckOrigin:   cfg.Server.CheckOrigin,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	}, proxy.Deps{
		Pool:     pool,
		Sessions: sessions,
		Bus:      tickBus,
		Logger:   lg,
		Monitor:  mon,
		Alerts:   alerts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置热更新：目前只支持在线调整日志级别
	applyLogLevel := func(next config.AppConfig) error {
		if next.Log.Level == "" {
			return nil
		}
		if err := lg.SetLevel(next.Log.Level); err != nil {
			return err
		}
		lg.Info("log level reloaded: " + next.Log.Level)
		return nil
	}
	reloader, err := hotcfg.NewHotReloader(*cfgPath, hotcfg.DefaultHotReloadConfig())
	if err != nil {
		// fsnotify 不可用时退回 mtime 轮询
		lg.LogError(err, map[string]interface{}{"stage": "hot_reload_init"})
		go func() {
			w := config.Watcher{Path: *cfgPath, Interval: config.DefaultWatchInterval}
			_ = w.Start(ctx, func(next config.AppConfig) {
				if err := applyLogLevel(next); err != nil {
					lg.LogError(err, map[string]interface{}{"stage": "hot_reload_apply"})
				}
			})
		}()
	} else {
		reloader.RegisterValidator("log", &hotcfg.LogParameterValidator{})
		reloader.SetReloadHandler(func(interface{}) error {
			next, err := config.LoadWithEnvOverrides(*cfgPath)
			if err != nil {
				return err
			}
			return applyLogLevel(next)
		})
		if err := reloader.Start(ctx); err != nil {
			lg.LogError(err, map[string]interface{}{"stage": "hot_reload_start"})
		}
		defer reloader.Stop()
	}

	lg.Info("proxyd starting on " + cfg.Server.Addr)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	err = server.Run(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	pool.Shutdown()
	tickBus.Close()
	if err != nil {
		lg.LogError(err, map[string]interface{}{"stage": "serve"})
	}
	lg.Info("proxyd stopped")
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultOutputs(v []string) []string {
	if len(v) == 0 {
		return []string{"stdout"}
	}
	return v
}
