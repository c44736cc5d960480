package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hylla/taskgate/internal/adapters/storage/mysql"
	"github.com/hylla/taskgate/internal/adapters/storage/postgres"
	"github.com/hylla/taskgate/internal/adapters/storage/sqlite"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/config"
	"github.com/hylla/taskgate/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := fang.Execute(context.Background(), root, fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// run executes one command line without fang styling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// cli carries the per-invocation viper instance and output streams.
type cli struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

// newRootCmd builds the command tree. Flags override TASKGATE_* environment
// variables, which override the config file.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	c := &cli{v: viper.New(), stdout: stdout, stderr: stderr}
	c.v.SetEnvPrefix("TASKGATE")
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "taskgate",
		Short:         "Multi-tenant task tracker with permit-gated workflow",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.String("config", "", "path to config TOML")
	flags.String("db", "", "path to sqlite database")
	flags.String("app", "taskgate", "application name for config/data path resolution")
	flags.Bool("dev", version == "dev", "use dev mode paths (<app>-dev)")
	mustBind(c.v.BindPFlag("config", flags.Lookup("config")))
	mustBind(c.v.BindPFlag("db_path", flags.Lookup("db")))
	mustBind(c.v.BindPFlag("app_name", flags.Lookup("app")))
	mustBind(c.v.BindPFlag("dev_mode", flags.Lookup("dev")))

	root.AddCommand(
		c.serveCmd(),
		c.seedCmd(),
		c.tokenCmd(),
		c.tasksCmd(),
		c.pathsCmd(),
		c.initCmd(),
		c.versionCmd(),
	)
	return root
}

func mustBind(err error) {
	if err != nil {
		panic(fmt.Sprintf("bind flag: %v", err))
	}
}

// runtimeEnv is the resolved state shared by every command that touches storage.
type runtimeEnv struct {
	appName    string
	devMode    bool
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
}

// resolvePaths resolves app name, dev mode and platform paths.
func (c *cli) resolvePaths() (runtimeEnv, error) {
	env := runtimeEnv{
		appName: strings.TrimSpace(c.v.GetString("app_name")),
		devMode: c.v.GetBool("dev_mode"),
	}
	if env.appName == "" {
		env.appName = "taskgate"
	}
	paths, err := platform.DefaultPathsWithOptions(platform.Options{AppName: env.appName, DevMode: env.devMode})
	if err != nil {
		return runtimeEnv{}, err
	}
	env.paths = paths
	env.configPath = strings.TrimSpace(c.v.GetString("config"))
	if env.configPath == "" {
		env.configPath = paths.ConfigPath
	}
	return env, nil
}

// resolveEnv loads config, applies overrides and opens the runtime logger.
// Callers must Close the logger.
func (c *cli) resolveEnv() (runtimeEnv, error) {
	env, err := c.resolvePaths()
	if err != nil {
		return runtimeEnv{}, err
	}
	dbPath := strings.TrimSpace(c.v.GetString("db_path"))
	dbOverridden := dbPath != ""
	if !dbOverridden {
		dbPath = env.paths.DBPath
	}

	cfg, err := config.Load(env.configPath, config.Default(dbPath))
	if err != nil {
		return runtimeEnv{}, fmt.Errorf("load config %q: %w", env.configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	if driver := strings.TrimSpace(c.v.GetString("db_driver")); driver != "" {
		cfg.Database.Driver = config.Driver(driver)
	}
	if dsn := strings.TrimSpace(c.v.GetString("db_dsn")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := c.v.GetString("token_secret"); secret != "" {
		cfg.Auth.TokenSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return runtimeEnv{}, fmt.Errorf("validate config: %w", err)
	}
	env.cfg = cfg

	logger, err := newRuntimeLogger(c.stderr, env.appName, env.devMode, cfg.Logging, time.Now)
	if err != nil {
		return runtimeEnv{}, fmt.Errorf("configure runtime logger: %w", err)
	}
	env.logger = logger
	logger.Debug("runtime paths resolved", "config_path", env.configPath, "data_dir", env.paths.DataDir, "db_path", cfg.Database.Path)
	logger.Info("configuration loaded", "config_path", env.configPath, "driver", cfg.Database.Driver, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}
	return env, nil
}

// storeHandle is what every storage adapter returns from Open.
type storeHandle interface {
	app.Store
	Ping(context.Context) error
	Close() error
}

// openStore opens the configured storage backend.
func openStore(ctx context.Context, db config.DatabaseConfig, lockTimeout time.Duration, logger *runtimeLogger) (storeHandle, error) {
	var (
		store storeHandle
		err   error
	)
	switch db.Driver {
	case config.DriverSQLite, "":
		logger.Info("opening sqlite repository", "db_path", db.Path)
		store, err = sqlite.Open(db.Path, lockTimeout)
	case config.DriverMySQL:
		logger.Info("opening mysql repository")
		store, err = mysql.Open(ctx, db.DSN, lockTimeout)
	case config.DriverPostgres:
		logger.Info("opening postgres repository")
		store, err = postgres.Open(ctx, db.DSN, lockTimeout)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
	if err != nil {
		logger.Error("repository open failed", "driver", db.Driver, "err", err)
		return nil, fmt.Errorf("open %s repository: %w", db.Driver, err)
	}
	logger.Info("repository ready", "driver", db.Driver, "migrations", "ensured")
	return store, nil
}

// withStore resolves the environment, opens storage, and runs fn.
func (c *cli) withStore(ctx context.Context, command string, fn func(context.Context, runtimeEnv, storeHandle) error) (err error) {
	env, err := c.resolveEnv()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := env.logger.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(c.stderr, "warning: close runtime log sink: %v\n", closeErr)
		}
	}()

	store, err := openStore(ctx, env.cfg.Database, env.cfg.Locking.LockTimeout(), env.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			env.logger.Warn("repository close failed", "err", closeErr)
		}
	}()

	env.logger.Info("command flow start", "command", command)
	if err := fn(ctx, env, store); err != nil {
		env.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	env.logger.Info("command flow complete", "command", command)
	return nil
}

// newService builds the service with the configured retry policy.
func newService(env runtimeEnv, store app.Store, cfg app.ServiceConfig) *app.Service {
	cfg.Logger = env.logger.Component()
	cfg.Retry = app.RetryPolicy{
		MaxAttempts: env.cfg.Locking.MaxAttempts,
		BaseDelay:   env.cfg.Locking.BaseDelay(),
	}
	cfg.NotifyTimeout = env.cfg.Notify.Timeout()
	return app.NewService(store, nil, cfg)
}

var errTokenSecretRequired = errors.New("auth.token_secret (or TASKGATE_TOKEN_SECRET) is required")
