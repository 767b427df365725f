package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seatctl/devserver"
)

var devserverAddrFlag string

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local reservation backend for development",
	Long: `Serve the reservation API and the live seat channel from memory,
seeded with a few movies and a demo account (demo@seatctl.dev / demo1234).

Seat holds live in Redis when REDIS_ADDR is set, in memory otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(true)
		if err != nil {
			return err
		}
		defer env.close()
		cfg := env.cfg
		if devserverAddrFlag != "" {
			cfg.DevServer.Addr = devserverAddrFlag
		}
		logger := env.logger.Named("devserver")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var holds devserver.HoldStore
		if cfg.DevServer.RedisAddr != "" {
			client, err := devserver.NewRedisClient(ctx, cfg.DevServer)
			if err != nil {
				return err
			}
			defer client.Close()
			redisHolds, err := devserver.NewRedisHolds(ctx, client, cfg.DevServer.HoldTTL, logger)
			if err != nil {
				return err
			}
			holds = redisHolds
			logger.Info("seat holds in redis", zap.String("addr", cfg.DevServer.RedisAddr))
		} else {
			holds = devserver.NewMemoryHolds(cfg.DevServer.HoldTTL, logger)
		}

		catalog, err := devserver.NewCatalog(time.Now, cfg.DevServer.BookingCutoff)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		srv := devserver.New(cfg.DevServer, catalog, holds, logger)
		defer func() {
			if err := srv.Close(); err != nil {
				logger.Debug("closing devserver", zap.Error(err))
			}
		}()
		return srv.Run(ctx)
	},
}

func init() {
	devserverCmd.Flags().StringVar(&devserverAddrFlag, "addr", "", "listen address (default from DEVSERVER_ADDR, :8888)")
}
