package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/device-provisioning-backend/cmd/flags"
	"github.com/ruteri/device-provisioning-backend/common"
	"github.com/ruteri/device-provisioning-backend/httpserver"
	"github.com/ruteri/device-provisioning-backend/metrics"
	"github.com/ruteri/device-provisioning-backend/provisioner"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/urfave/cli/v2"
)

var serverFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		Usage:   "address to listen on for API",
		EnvVars: []string{"LISTEN_ADDR"},
	},
	&cli.DurationFlag{
		Name:  "session-timeout",
		Value: 3 * time.Minute,
		Usage: "upper bound for one provisioning session",
	},
	flags.ArchiveFlag,
	flags.LogServiceFlagFn("device-provisioning"),
}

func main() {
	app := &cli.App{
		Name:  "provisioning-server",
		Usage: "Serve the device provisioning API for the locally attached debug probes",
		Flags: append(append(serverFlags, flags.CommonFlags...), flags.TransportFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}
			cfg.Metrics = metricsSrv

			transport, err := flags.ConfigureTransport(cCtx, logger)
			if err != nil {
				logger.Error("Failed to configure transport", "err", err)
				return err
			}

			authorities := flags.ConfigureAuthorities(logger)
			orchestrator, err := provisioner.New(provisioner.Config{
				Transport:      transport,
				Authorities:    authorities,
				SessionTimeout: cCtx.Duration("session-timeout"),
				Log:            logger,
				Recorder:       metricsSrv.Provisioning,
			})
			if err != nil {
				logger.Error("Failed to create orchestrator", "err", err)
				return err
			}

			handlerCfg := httpserver.HandlerConfig{
				Provisioner: orchestrator,
				Observer:    metricsSrv.Provisioning,
				Modes:       []request.Mode{request.PrimaryCA, request.SecondaryCA},
				Log:         logger,
			}

			archiver, locations, err := flags.ConfigureArchiver(cCtx, logger)
			if err != nil {
				logger.Error("Failed to configure archive", "err", err)
				return err
			}
			if archiver != nil {
				logger.Info("Archiving provisioning records", "locations", locations)
				handlerCfg.Archiver = archiver
				handlerCfg.ArchiveLocations = locations
			}

			server, err := httpserver.New(cfg, httpserver.NewHandler(handlerCfg))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Drain()
			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
