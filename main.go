package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"gomint/app"
	"gomint/config"
)

func main() {
	fx.New(
		fx.Provide(
			loadConfig,
			newLogger,
			app.Build,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(registerLifecycle),
	).Run()
}

func loadConfig() (*config.Config, error) {
	cfg, _, err := config.LoadOrCreate()
	return cfg, err
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return app.NewLogger(cfg.Log)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, a *app.App, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := a.Start(); err != nil {
				return err
			}
			logger.Info("gomint running",
				zap.String("data_dir", cfg.DataDir),
				zap.String("database", cfg.DatabasePath()),
				zap.Stringer("http", a.HTTPAddr()),
				zap.Bool("discovery", cfg.Discovery.Enabled),
			)

			go func() {
				if err := a.Wait(); err != nil {
					logger.Error("listener failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := a.Stop(ctx)
			_ = logger.Sync()
			return err
		},
	})
}
