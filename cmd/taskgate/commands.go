package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hylla/taskgate/internal/adapters/auth"
	"github.com/hylla/taskgate/internal/adapters/notify"
	"github.com/hylla/taskgate/internal/adapters/server"
	"github.com/hylla/taskgate/internal/adapters/server/common"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/config"
	"github.com/hylla/taskgate/internal/seed"
	"github.com/hylla/taskgate/internal/telemetry"
)

// drainTimeout bounds how long serve waits for in-flight review notifications.
const drainTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools and metrics on one listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.withStore(ctx, "serve", c.runServe)
		},
	}
	cmd.Flags().String("http-bind", "", "listen address (overrides server.http_bind)")
	mustBind(c.v.BindPFlag("http_bind", cmd.Flags().Lookup("http-bind")))
	return cmd
}

func (c *cli) runServe(ctx context.Context, env runtimeEnv, store storeHandle) error {
	cfg := env.cfg
	tokens, err := newTokens(cfg.Auth)
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	notifier, closeNotifier, err := notify.New(notify.Options{
		Kind:         cfg.Notify.Kind,
		KafkaBrokers: cfg.Notify.KafkaBrokers,
		KafkaTopic:   cfg.Notify.KafkaTopic,
		RedisAddr:    cfg.Notify.RedisAddr,
		RedisChannel: cfg.Notify.RedisChannel,
	}, env.logger.Component())
	if err != nil {
		return fmt.Errorf("configure review notifier: %w", err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			env.logger.Warn("review notifier close failed", "err", err)
		}
	}()
	env.logger.Info("review notifier ready", "kind", cfg.Notify.Kind)

	svc := newService(env, store, app.ServiceConfig{Metrics: metrics, Notifier: notifier})
	adapter := common.NewAppServiceAdapter(svc, tokens)

	bind := strings.TrimSpace(c.v.GetString("http_bind"))
	if bind == "" {
		bind = cfg.Server.HTTPBind
	}
	runErr := server.Run(ctx, server.Config{
		HTTPBind:        bind,
		APIEndpoint:     cfg.Server.APIEndpoint,
		MCPEndpoint:     cfg.Server.MCPEndpoint,
		MetricsEndpoint: cfg.Server.MetricsEndpoint,
		ServerName:      env.appName,
		ServerVersion:   version,
	}, server.Dependencies{
		Tasks:   adapter,
		Auth:    adapter,
		Logger:  env.logger.Component(),
		Metrics: registry,
		Ready:   store.Ping,
	})

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := svc.WaitForNotifications(drainCtx); err != nil {
		env.logger.Warn("review notifications still in flight at shutdown", "err", err)
	}
	return runErr
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load applications, plans and accounts from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), "seed", func(ctx context.Context, env runtimeEnv, store storeHandle) error {
				fx, err := seed.ParseFile(args[0])
				if err != nil {
					return err
				}
				res, err := seed.Load(ctx, store, fx, time.Now())
				if err != nil {
					return err
				}
				env.logger.Info("seed loaded", "applications", res.Applications, "plans", res.Plans, "accounts", res.Accounts, "skipped", res.Skipped)
				return c.writeJSON(res)
			})
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a bearer token for a known account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), "token", func(ctx context.Context, env runtimeEnv, store storeHandle) error {
				tokens, err := newTokens(env.cfg.Auth)
				if err != nil {
					return err
				}
				account, err := store.GetAccount(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return fmt.Errorf("lookup account %q: %w", args[0], err)
				}
				if !account.Active {
					env.logger.Warn("issuing token for inactive account", "username", account.Username)
				}
				raw, claims, err := tokens.Issue(account.Username)
				if err != nil {
					return err
				}
				env.logger.Info("token issued", "username", account.Username, "expires_at", claims.ExpiresAt.Time, "jti", claims.ID)
				_, err = fmt.Fprintln(c.stdout, raw)
				return err
			})
		},
	}
}

func (c *cli) tasksCmd() *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect tasks",
	}
	tasks.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print every task in creation order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withStore(cmd.Context(), "tasks list", func(ctx context.Context, env runtimeEnv, store storeHandle) error {
					list, err := newService(env, store, app.ServiceConfig{}).ListTasks(ctx)
					if err != nil {
						return err
					}
					views := make([]common.TaskView, 0, len(list))
					for _, task := range list {
						views = append(views, common.MapTask(task))
					}
					return c.writeJSON(views)
				})
			},
		},
		&cobra.Command{
			Use:   "show <task-id>",
			Short: "Print one task with its notes",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withStore(cmd.Context(), "tasks show", func(ctx context.Context, env runtimeEnv, store storeHandle) error {
					task, err := newService(env, store, app.ServiceConfig{}).GetTask(ctx, args[0])
					if err != nil {
						return err
					}
					return c.writeJSON(common.MapTask(task))
				})
			},
		},
	)
	return tasks
}

func (c *cli) pathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			env, err := c.resolvePaths()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.stdout, "app: %s\n", env.appName)
			_, _ = fmt.Fprintf(c.stdout, "dev_mode: %t\n", env.devMode)
			_, _ = fmt.Fprintf(c.stdout, "config: %s\n", env.configPath)
			_, _ = fmt.Fprintf(c.stdout, "data_dir: %s\n", env.paths.DataDir)
			_, _ = fmt.Fprintf(c.stdout, "db: %s\n", env.paths.DBPath)
			_, _ = fmt.Fprintf(c.stdout, "log_dir: %s\n", env.paths.LogDir)
			return nil
		},
	}
}

func (c *cli) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			env, err := c.resolvePaths()
			if err != nil {
				return err
			}
			dbPath := strings.TrimSpace(c.v.GetString("db_path"))
			if dbPath == "" {
				dbPath = env.paths.DBPath
			}
			if err := config.WriteFile(env.configPath, config.Default(dbPath)); err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("config %q already exists", env.configPath)
				}
				return err
			}
			_, err = fmt.Fprintf(c.stdout, "wrote %s\n", env.configPath)
			return err
		},
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintf(c.stdout, "taskgate %s\n", version)
			return err
		},
	}
}

func newTokens(cfg config.AuthConfig) (*auth.Tokens, error) {
	if cfg.TokenSecret == "" {
		return nil, errTokenSecretRequired
	}
	return auth.NewTokens(auth.TokensConfig{
		Secret: cfg.TokenSecret,
		Issuer: cfg.Issuer,
		TTL:    cfg.TokenTTL(),
	})
}

func (c *cli) writeJSON(payload any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
