package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ruteri/device-provisioning-backend/api"
	"github.com/ruteri/device-provisioning-backend/ca/localca"
	"github.com/ruteri/device-provisioning-backend/cmd/flags"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "provisionctl",
		Usage: "Control a device provisioning server",
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Minute,
				Usage: "request timeout",
			},
		},
		Commands: []*cli.Command{
			provisionCommand,
			devicesCommand,
			infoCommand,
			initCACommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func client(cCtx *cli.Context) *api.Client {
	c := api.NewClient(cCtx.String(flags.ServerAddrFlag.Name))
	c.HTTPClient = &http.Client{Timeout: cCtx.Duration("timeout")}
	return c
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var provisionCommand = &cli.Command{
	Name:  "provision",
	Usage: "Provision a device through the server",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "soc", Required: true, Usage: "SoC type"},
		&cli.StringFlag{Name: "mode", Value: "cpms", Usage: "provisioning mode (cpms/serca or 1/2)"},
		&cli.StringFlag{Name: "prov-img", Required: true, Usage: "provisioning image path on the server host"},
		&cli.StringFlag{Name: "jlink-ser", Usage: "serial number of the J-Link adapter"},
		&cli.StringFlag{Name: "jlink-host", Usage: "host name or IP address of the J-Link adapter"},
		&cli.StringFlag{Name: "oid", Usage: "product OID, required in cpms mode"},
		&cli.StringFlag{Name: "config", Usage: "certificate authority configuration on the server host"},
	},
	Action: func(cCtx *cli.Context) error {
		mode, err := request.ParseMode(cCtx.String("mode"))
		if err != nil {
			return err
		}

		resp, err := client(cCtx).Provision(cCtx.Context, api.ProvisionRequest{
			SoC:         cCtx.String("soc"),
			Mode:        mode,
			ProvImage:   cCtx.String("prov-img"),
			JLinkSerial: cCtx.String("jlink-ser"),
			JLinkHost:   cCtx.String("jlink-host"),
			OID:         cCtx.String("oid"),
			Config:      cCtx.String("config"),
		})
		if resp != nil {
			if perr := printJSON(resp); perr != nil {
				return perr
			}
		}
		return err
	},
}

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List the device kinds the server supports",
	Action: func(cCtx *cli.Context) error {
		resp, err := client(cCtx).Devices(cCtx.Context)
		if err != nil {
			return err
		}
		for _, d := range resp.Devices {
			fmt.Printf("%-6s %-20s %s\n", d.Kind, d.Device, d.Description)
		}
		return nil
	},
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "Show server information",
	Action: func(cCtx *cli.Context) error {
		resp, err := client(cCtx).Info(cCtx.Context)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var initCACommand = &cli.Command{
	Name:  "init-ca",
	Usage: "Generate a local root and batch CA with a ca.toml for cpms mode",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "dir", Value: "pki", Usage: "output directory"},
		&cli.StringFlag{Name: "organization", Value: "Device Provisioning", Usage: "certificate organization"},
		&cli.IntFlag{Name: "validity-days", Value: 0, Usage: "device certificate validity, 0 for no expiry"},
		&cli.BoolFlag{Name: "seal", Usage: "seal the batch key with the passphrase from " + localca.PassphraseEnv},
	},
	Action: func(cCtx *cli.Context) error {
		opts := localca.InitOptions{
			Organization:       cCtx.String("organization"),
			DeviceValidityDays: cCtx.Int("validity-days"),
		}
		if cCtx.Bool("seal") {
			passphrase := strings.TrimSpace(os.Getenv(localca.PassphraseEnv))
			if passphrase == "" {
				return errors.New(localca.PassphraseEnv + " must be set with --seal")
			}
			opts.Passphrase = []byte(passphrase)
		}

		path, err := localca.InitDirectory(cCtx.String("dir"), opts)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}
