package flags

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/device-provisioning-backend/ca/estca"
	"github.com/ruteri/device-provisioning-backend/ca/localca"
	"github.com/ruteri/device-provisioning-backend/common"
	"github.com/ruteri/device-provisioning-backend/httpserver"
	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/ruteri/device-provisioning-backend/storage"
	"github.com/ruteri/device-provisioning-backend/transport/jlink"
	"github.com/ruteri/device-provisioning-backend/transport/sim"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		// Provisioning responses are written after the whole session.
		WriteTimeout: 5 * time.Minute,
	}
}

// ConfigureTransport returns the simulated transport with --simulate and the
// J-Link transport otherwise.
func ConfigureTransport(cCtx *cli.Context, logger *slog.Logger) (interfaces.Transport, error) {
	if cCtx.Bool(SimulateFlag.Name) {
		serial, err := hex.DecodeString(strings.TrimSpace(cCtx.String(SimulateSerialFlag.Name)))
		if err != nil || len(serial) != 8 {
			return nil, fmt.Errorf("invalid --%s: expected 16 hex characters", SimulateSerialFlag.Name)
		}
		logger.Warn("Using simulated device, nothing is written to hardware", "serial", interfaces.NewDeviceSerial(serial).String())
		return sim.New(logger, sim.NewDevice(serial)), nil
	}

	cfg := jlink.DefaultConfig()
	cfg.ExePath = cCtx.String(JLinkExeFlag.Name)
	cfg.GDBServerPath = cCtx.String(JLinkGDBServerFlag.Name)
	cfg.Interface = cCtx.String(JLinkInterfaceFlag.Name)
	cfg.SpeedKHz = cCtx.Int(JLinkSpeedFlag.Name)
	cfg.GDBPort = cCtx.Int(GDBPortFlag.Name)
	cfg.RTTPort = cCtx.Int(RTTPortFlag.Name)

	var resolver *jlink.Resolver
	if servers := cCtx.StringSlice(JLinkDNSFlag.Name); len(servers) > 0 {
		resolver = &jlink.Resolver{Servers: servers, Timeout: 5 * time.Second}
	}
	return jlink.New(logger, cfg, jlink.ExecRunner{}, resolver), nil
}

// ConfigureAuthorities maps each mode to its certificate authority client.
func ConfigureAuthorities(logger *slog.Logger) map[request.Mode]interfaces.CertificateAuthority {
	return map[request.Mode]interfaces.CertificateAuthority{
		request.PrimaryCA:   localca.New(logger),
		request.SecondaryCA: estca.New(logger),
	}
}

// ConfigureArchiver builds the archiver from --archive locations. It returns
// nil when none are given.
func ConfigureArchiver(cCtx *cli.Context, logger *slog.Logger) (*storage.Archiver, []string, error) {
	uris := cCtx.StringSlice(ArchiveFlag.Name)
	if len(uris) == 0 {
		return nil, nil, nil
	}

	locations, err := storage.ParseLocations(uris)
	if err != nil {
		return nil, nil, err
	}
	backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewArchiver(backend, logger), uris, nil
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"METRICS_ADDR"},
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var JLinkExeFlag = &cli.StringFlag{
	Name:    "jlink-exe",
	Value:   "JLinkExe",
	Usage:   "path to the J-Link Commander executable",
	EnvVars: []string{"JLINK_EXE"},
}
var JLinkGDBServerFlag = &cli.StringFlag{
	Name:    "jlink-gdbserver",
	Value:   "JLinkGDBServerCLExe",
	Usage:   "path to the J-Link GDB server executable (RTT channel)",
	EnvVars: []string{"JLINK_GDBSERVER"},
}
var JLinkInterfaceFlag = &cli.StringFlag{
	Name:  "jlink-if",
	Value: "SWD",
	Usage: "target interface",
}
var JLinkSpeedFlag = &cli.IntFlag{
	Name:  "jlink-speed",
	Value: 4000,
	Usage: "interface speed in kHz",
}
var GDBPortFlag = &cli.IntFlag{
	Name:  "gdb-port",
	Value: 2331,
	Usage: "local GDB server port",
}
var RTTPortFlag = &cli.IntFlag{
	Name:  "rtt-port",
	Value: 19021,
	Usage: "local RTT telnet port of the GDB server",
}
var JLinkDNSFlag = &cli.StringSliceFlag{
	Name:  "jlink-dns",
	Usage: "nameserver (host:port) used to resolve _jlink._tcp SRV records of probe hosts",
}
var SimulateFlag = &cli.BoolFlag{
	Name:  "simulate",
	Value: false,
	Usage: "provision a simulated device instead of real hardware",
}
var SimulateSerialFlag = &cli.StringFlag{
	Name:  "simulate-serial",
	Value: "000B57FFFE000001",
	Usage: "EUI-64 of the simulated device",
}
var ArchiveFlag = &cli.StringSliceFlag{
	Name:    "archive",
	Usage:   "storage location for issued certificates and provisioning records (file://, s3://, vault://, ipfs://), repeatable",
	EnvVars: []string{"ARCHIVE_LOCATIONS"},
}

var TransportFlags = []cli.Flag{
	JLinkExeFlag,
	JLinkGDBServerFlag,
	JLinkInterfaceFlag,
	JLinkSpeedFlag,
	GDBPortFlag,
	RTTPortFlag,
	JLinkDNSFlag,
	SimulateFlag,
	SimulateSerialFlag,
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "provisioning server URL",
	EnvVars: []string{"PROVISIONING_SERVER"},
}
