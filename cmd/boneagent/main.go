package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/mycoool/boneagent/internal/bone"
	"github.com/mycoool/boneagent/internal/config"
	"github.com/mycoool/boneagent/internal/database"
	"github.com/mycoool/boneagent/internal/eventbus"
	"github.com/mycoool/boneagent/internal/license"
	"github.com/mycoool/boneagent/internal/logging"
	"github.com/mycoool/boneagent/internal/pidfile"
	"github.com/mycoool/boneagent/internal/router"
	"github.com/mycoool/boneagent/internal/sensor"
	"github.com/mycoool/boneagent/internal/stream"
	"github.com/mycoool/boneagent/internal/sysinfo"
	"golang.org/x/sync/errgroup"
)

// listenOff disables the local status API.
const listenOff = "off"

type options struct {
	configFlag  string
	dataDirFlag string
	configPath  string
	dataDir     string
	envFile     string
	logFile     string
	logJSON     bool
	pidPath     string
	writeConfig bool
	overrides   overrides
}

// overrides are flag values; empty or zero means "not given".
type overrides struct {
	cloudURL     string
	redisURL     string
	licenseFile  string
	dbPath       string
	listen       string
	logLevel     string
	name         string
	version      string
	interval     time.Duration
	startupDelay time.Duration
}

func main() {
	opts := parseFlags()
	log := logging.New("main")

	// .env may itself set BONE_DATA_DIR or BONE_CONFIG
	if err := loadDotEnvFiles(opts.envFile, ""); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}
	opts.resolvePaths()
	if err := loadDotEnvFiles("", opts.dataDir); err != nil {
		log.WithError(err).Warn("failed to load .env")
	}

	cfg, err := config.Load(opts.configPath, opts.dataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	applyOverrides(cfg, opts.overrides)

	_ = logging.Set(logging.Level(cfg.LogLevel))
	if opts.logJSON {
		_ = logging.Set(logging.JSON())
	}
	var logOut *os.File
	if opts.logFile != "" {
		logOut, err = os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Fatal("failed to open log file")
		}
		_ = logging.Set(logging.Output(logOut))
	}

	if opts.writeConfig {
		if err := config.Save(opts.configPath, cfg); err != nil {
			log.WithError(err).Fatal("failed to write config")
		}
		log.WithField("path", opts.configPath).Info("config written")
		closeLog(logOut)
		return
	}

	code := serve(opts, cfg, log)
	closeLog(logOut)
	os.Exit(code)
}

func closeLog(f *os.File) {
	if f == nil {
		return
	}
	_ = logging.Set(logging.Output(os.Stderr))
	_ = f.Close()
}

// serve runs the agent until a signal arrives and returns the exit code.
func serve(opts options, cfg *config.AgentConfig, log logging.Logger) int {
	if opts.pidPath != "" {
		pidFile, err := pidfile.New(opts.pidPath)
		if err != nil {
			log.WithError(err).Error("failed to create pid file")
			return 1
		}
		defer func() {
			if err := pidFile.Remove(); err != nil {
				log.WithError(err).Warn("failed to remove pid file")
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("agent stopped")
		return 1
	}
	log.Info("agent stopped")
	return 0
}

func run(ctx context.Context, cfg *config.AgentConfig) error {
	log := logging.New("main")

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	bus := eventbus.New(logging.New("eventbus"))
	hub := stream.NewHub(logging.New("stream"))
	defer hub.Forward(bus)()

	lic := license.NewSource(cfg.LicenseFile, logging.New("license"))
	cloud := bone.New(bone.Config{
		URL:               cfg.Cloud.URL,
		Timeout:           cfg.Cloud.Timeout,
		ReadyPollInterval: cfg.Cloud.ReadyPollInterval,
	}, logging.New("bone"))

	boneSensor := sensor.New(sensor.Config{
		Interval:     cfg.CheckIn.Interval,
		StartupDelay: cfg.CheckIn.StartupDelay,
		Consumer:     cfg.Consumer,
		Agent:        checkInConfig(cfg),
	}, sensor.Deps{
		Store:   store,
		Cloud:   cloud,
		License: lic,
		SysInfo: sysinfo.NewCollector(),
		Events:  bus,
	}, logging.New("bone-sensor"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return boneSensor.Run(ctx) })
	g.Go(func() error {
		// without the watcher a missing license is still picked up on the next check-in
		if err := lic.Watch(ctx); err != nil {
			log.WithError(err).Warn("license watcher disabled")
		}
		return nil
	})

	if cfg.Listen != listenOff {
		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{
			Addr: cfg.Listen,
			Handler: router.InitRouter(router.Deps{
				Store:   store,
				Sensor:  boneSensor,
				License: lic,
				Hub:     hub,
				Log:     logging.New("api"),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.WithField("addr", cfg.Listen).Info("status api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warn("failed to notify systemd")
	} else if sent {
		log.Debug("notified systemd")
	}
	log.WithField("name", cfg.Name).WithField("cloud", cfg.Cloud.URL).Info("bone agent started")

	return g.Wait()
}

// stateStore is what the sensor writes and the status API reads.
type stateStore interface {
	sensor.Store
	router.StateReader
}

// openStore connects the redis backend when configured, the sqlite one otherwise.
func openStore(ctx context.Context, cfg *config.AgentConfig) (stateStore, func(), error) {
	log := logging.New("store")

	if cfg.UsesRedis() {
		client, err := database.ConnectRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("backend", "redis").Info("state store opened")
		store := database.NewRedisStore(client)
		return store, func() { _ = store.Close() }, nil
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("backend", "sqlite").WithField("path", cfg.Database.Path).Info("state store opened")
	return database.NewKVStore(db), func() { _ = database.Close(db) }, nil
}

// checkInConfig is the part of the agent config reported to the cloud.
func checkInConfig(cfg *config.AgentConfig) map[string]any {
	return map[string]any{
		"name":     cfg.Name,
		"version":  cfg.Version,
		"interval": cfg.CheckIn.Interval.String(),
	}
}

func parseFlags() options {
	defaultDir := defaultDataDir()

	var (
		flagConfig      = flag.String("config", "", "Agent YAML config (default: <data-dir>/agent.yaml)")
		flagDataDir     = flag.String("data-dir", "", "Directory for state, license and config (default: "+defaultDir+")")
		flagEnvFile     = flag.String("env-file", "", "Load env vars from a .env file (optional)")
		flagLogFile     = flag.String("logfile", "", "Send log output to a file")
		flagLogJSON     = flag.Bool("log-json", false, "Log as JSON lines")
		flagPidFile     = flag.String("pidfile", "", "Create PID file at the given path")
		flagWriteConfig = flag.Bool("write-config", false, "Write the effective config to -config and exit")

		flagCloud        = flag.String("cloud", "", "Cloud check-in base URL")
		flagRedis        = flag.String("redis", "", "Keep state in redis at this URL or host:port instead of sqlite")
		flagLicense      = flag.String("license", "", "License file path")
		flagDB           = flag.String("db", "", "State database path")
		flagListen       = flag.String("listen", "", `Status API address, "off" to disable`)
		flagLogLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		flagName         = flag.String("name", "", "Agent display name (default: hostname)")
		flagVersion      = flag.String("agent-version", "", "Agent version string reported to the cloud")
		flagInterval     = flag.Duration("interval", 0, "Check-in interval (default 1h)")
		flagStartupDelay = flag.Duration("startup-delay", 0, "Delay before the first check-in (default 5s)")
	)
	flag.Parse()

	return options{
		configFlag:  *flagConfig,
		dataDirFlag: *flagDataDir,
		envFile:     *flagEnvFile,
		logFile:     *flagLogFile,
		logJSON:     *flagLogJSON,
		pidPath:     *flagPidFile,
		writeConfig: *flagWriteConfig,
		overrides: overrides{
			cloudURL:     *flagCloud,
			redisURL:     *flagRedis,
			licenseFile:  *flagLicense,
			dbPath:       *flagDB,
			listen:       *flagListen,
			logLevel:     *flagLogLevel,
			name:         *flagName,
			version:      *flagVersion,
			interval:     *flagInterval,
			startupDelay: *flagStartupDelay,
		},
	}
}

// resolvePaths settles the data dir and config path: flag, then env, then default.
func (o *options) resolvePaths() {
	o.dataDir = firstNonEmpty(o.dataDirFlag, os.Getenv("BONE_DATA_DIR"), defaultDataDir())
	o.configPath = firstNonEmpty(o.configFlag, os.Getenv("BONE_CONFIG"), filepath.Join(o.dataDir, "agent.yaml"))
}

// applyOverrides layers flags, then BONE_* env vars, over the file config.
func applyOverrides(cfg *config.AgentConfig, o overrides) {
	cfg.Cloud.URL = firstNonEmpty(o.cloudURL, os.Getenv("BONE_CLOUD_URL"), cfg.Cloud.URL)
	cfg.Store.RedisURL = firstNonEmpty(o.redisURL, os.Getenv("BONE_REDIS_URL"), cfg.Store.RedisURL)
	cfg.LicenseFile = firstNonEmpty(o.licenseFile, os.Getenv("BONE_LICENSE_FILE"), cfg.LicenseFile)
	cfg.Database.Path = firstNonEmpty(o.dbPath, os.Getenv("BONE_DB_PATH"), cfg.Database.Path)
	cfg.Listen = firstNonEmpty(o.listen, os.Getenv("BONE_LISTEN"), cfg.Listen)
	cfg.LogLevel = firstNonEmpty(o.logLevel, os.Getenv("BONE_LOG_LEVEL"), cfg.LogLevel)
	cfg.Name = firstNonEmpty(o.name, os.Getenv("BONE_NAME"), cfg.Name)
	cfg.Version = firstNonEmpty(o.version, os.Getenv("BONE_AGENT_VERSION"), cfg.Version)
	if o.interval > 0 {
		cfg.CheckIn.Interval = o.interval
	}
	if o.startupDelay > 0 {
		cfg.CheckIn.StartupDelay = o.startupDelay
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func defaultDataDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".boneagent")
	}
	return "./agent_data"
}
