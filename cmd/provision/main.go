package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ruteri/device-provisioning-backend/cmd/flags"
	"github.com/ruteri/device-provisioning-backend/cryptoutils"
	"github.com/ruteri/device-provisioning-backend/provisioner"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/urfave/cli/v2"
)

var provisionFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "soc",
		Required: true,
		Usage:    "SoC type (xg12, xg25, xg28)",
	},
	&cli.StringFlag{
		Name:     "prov_img",
		Aliases:  []string{"prov-img"},
		Required: true,
		Usage:    "provisioning application image",
	},
	&cli.StringFlag{
		Name:    "jlink_ser",
		Aliases: []string{"jlink-ser"},
		Usage:   "serial number of the J-Link adapter",
	},
	&cli.StringFlag{
		Name:    "jlink_host",
		Aliases: []string{"jlink-host"},
		Usage:   "host name or IP address of the J-Link adapter",
	},
	&cli.BoolFlag{
		Name:  "cpms",
		Usage: "sign through the local batch CA (otherwise enroll through EST)",
	},
	&cli.StringFlag{
		Name:  "mode",
		Usage: "provisioning mode (cpms/serca or 1/2), overrides --cpms",
	},
	&cli.StringFlag{
		Name:  "oid",
		Usage: "product OID, required in cpms mode",
	},
	&cli.StringFlag{
		Name:  "config",
		Value: request.DefaultCAConfig,
		Usage: "certificate authority configuration file",
	},
	&cli.StringFlag{
		Name:  "out-dir",
		Usage: "write the issued device, batch and root certificates as PEM files into this directory",
	},
	&cli.BoolFlag{
		Name:  "json",
		Usage: "print the result as JSON",
	},
	flags.ArchiveFlag,
	flags.LogJsonFlag,
	flags.LogDebugFlag,
	flags.LogUidFlag,
	flags.LogServiceFlagFn("provision"),
}

func main() {
	app := &cli.App{
		Name:  "provision",
		Usage: "Provision a device identity over a J-Link debug probe",
		Flags: append(provisionFlags, flags.TransportFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			mode := request.SecondaryCA
			if cCtx.Bool("cpms") {
				mode = request.PrimaryCA
			}
			if raw := cCtx.String("mode"); raw != "" {
				parsed, err := request.ParseMode(raw)
				if err != nil {
					return err
				}
				mode = parsed
			}

			req, err := request.ParseAndValidate(request.RawRequest{
				SoC:         cCtx.String("soc"),
				Mode:        mode,
				ProvImage:   cCtx.String("prov_img"),
				JLinkSerial: cCtx.String("jlink_ser"),
				JLinkHost:   cCtx.String("jlink_host"),
				OID:         cCtx.String("oid"),
				Config:      cCtx.String("config"),
			})
			if err != nil {
				return err
			}

			transport, err := flags.ConfigureTransport(cCtx, logger)
			if err != nil {
				return err
			}
			orchestrator, err := provisioner.New(provisioner.Config{
				Transport:   transport,
				Authorities: flags.ConfigureAuthorities(logger),
				Log:         logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Start provisioning", "mode", mode.String(), "soc", req.DeviceKind(), "target", req.Target().String())
			result, err := orchestrator.Execute(ctx, mode, req)
			if err != nil {
				var perr *provisioner.ProvisioningError
				if errors.As(err, &perr) {
					for _, w := range perr.Warnings {
						logger.Warn("Cleanup warning", "err", w)
					}
				}
				return err
			}
			for _, w := range result.Warnings {
				logger.Warn("Cleanup warning", "err", w)
			}

			if dir := cCtx.String("out-dir"); dir != "" {
				if err := writeChain(dir, result); err != nil {
					return err
				}
			}

			archiver, _, err := flags.ConfigureArchiver(cCtx, logger)
			if err != nil {
				logger.Warn("Archive is not available", "err", err)
			} else if archiver != nil {
				if _, err := archiver.Archive(ctx, result); err != nil {
					logger.Warn("Failed to archive provisioning record", "err", err)
				}
			}

			if cCtx.Bool("json") {
				out := map[string]any{
					"success":       true,
					"session_id":    result.SessionID,
					"device_serial": result.DeviceSerial.String(),
					"certificates":  result.Artifacts,
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			logger.Info("Finished", "device_serial", result.DeviceSerial.String(), "duration", result.Duration)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func writeChain(dir string, result *provisioner.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	certs := map[string][]byte{
		provisioner.ArtifactDevice: result.Chain.Device,
		provisioner.ArtifactBatch:  result.Chain.Batch,
		provisioner.ArtifactRoot:   result.Chain.Root,
	}
	for name, der := range certs {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.pem", result.DeviceSerial, name))
		if err := os.WriteFile(path, cryptoutils.EncodeCertificatePEM(der), 0o644); err != nil {
			return err
		}
	}
	return nil
}
