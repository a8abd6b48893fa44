// thane-openhab keeps a conversational agent informed about an openHAB
// installation.
//
// It polls the openHAB REST API, classifies items into locations,
// switches and shutters, and publishes an instruction snapshot plus the
// function schemas the agent may call to act on them. The host talks to
// it over a small HTTP API and, optionally, an MQTT mirror.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	thane-openhab serve              Start the API server and refresh loop
//	thane-openhab init [dir]         Write an example config.yaml
//	thane-openhab version            Print version and build information
//	thane-openhab -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/thane-openhab/internal/api"
	"github.com/nugget/thane-openhab/internal/buildinfo"
	"github.com/nugget/thane-openhab/internal/config"
	"github.com/nugget/thane-openhab/internal/dispatch"
	"github.com/nugget/thane-openhab/internal/events"
	"github.com/nugget/thane-openhab/internal/host"
	"github.com/nugget/thane-openhab/internal/httpkit"
	"github.com/nugget/thane-openhab/internal/mqtt"
	"github.com/nugget/thane-openhab/internal/openhab"
	"github.com/nugget/thane-openhab/internal/reconcile"
	"github.com/nugget/thane-openhab/internal/render"
	"github.com/nugget/thane-openhab/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run].
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Cancelling ctx triggers graceful
// shutdown. Structured logs go to stdout. args is os.Args[1:], parsed by
// hand so tests can call run concurrently without flag package globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "thane-openhab - openHAB inventory for conversational agents")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: thane-openhab [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server and refresh loop")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// manifest describes the extension to the host.
func manifest() host.Manifest {
	return host.Manifest{
		Name:     "OpenHAB",
		Website:  "https://www.openhab.org/",
		Category: "home_automation",
		Features: []string{
			"Lights: Check status, turn on/off",
			"Shutters: Check status, open, close and stop",
		},
		InstallationSteps: []string{
			"[Generate an API token](https://www.openhab.org/docs/configuration/apitokens.html#generate-an-api-token)",
		},
		Parameters: []host.Parameter{
			{
				Name:           config.ParamBaseURL,
				Description:    "The base URL of your openHAB server.",
				Type:           "url",
				PossibleValues: []string{"http://openhab:8080", "https://openhab.mydomain.net"},
			},
			{
				Name:        config.ParamAPIToken,
				Description: "The copied API token.",
				Type:        "password",
			},
		},
	}
}

// runServe handles the "serve" subcommand. It wires the openHAB client,
// dispatcher, renderer and reconciliation loop to the host extension,
// starts the transports, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting "+buildinfo.Name, "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level and format.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already checked by Validate.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = config.NewLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"openhab_url", cfg.OpenHAB.URL,
		"refresh_interval", cfg.Refresh.Interval(),
		"start_enabled", cfg.Enabled(),
	)
	if !cfg.OpenHAB.Configured() {
		logger.Warn("openHAB connection not fully configured; set BASE_URL and API_TOKEN through the parameter API")
	}

	// --- openHAB client ---
	params := config.NewParameters(cfg.OpenHAB)

	clientOpts := []httpkit.ClientOption{httpkit.WithTimeout(cfg.OpenHAB.Timeout())}
	if cfg.OpenHAB.InsecureSkipVerify {
		clientOpts = append(clientOpts, httpkit.WithTLSInsecureSkipVerify())
		logger.Warn("TLS verification disabled for openHAB")
	}
	if cfg.OpenHAB.DialRetries > 0 {
		clientOpts = append(clientOpts, httpkit.WithRetry(cfg.OpenHAB.DialRetries, config.DialRetryDelay))
	}
	client := openhab.NewClient(params, logger.With("component", "openhab"), clientOpts...)
	if cfg.OpenHAB.Configured() {
		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.Ping(pingCtx); err != nil {
			// Not fatal; the loop retries on its own schedule.
			logger.Warn("openHAB ping failed", "url", cfg.OpenHAB.URL, "error", err)
		} else {
			logger.Info("openHAB reachable", "url", cfg.OpenHAB.URL)
		}
		pingCancel()
	}

	// Operational events for websocket clients.
	bus := events.New()

	// --- Functions ---
	dispatcher := dispatch.New(client,
		dispatch.WithRate(cfg.Dispatch.CommandsPerSecond, cfg.Dispatch.Burst),
		dispatch.WithEvents(bus),
		dispatch.WithLogger(logger.With("component", "dispatch")),
	)
	registry := tools.NewRegistry()
	if err := dispatcher.Register(registry); err != nil {
		return fmt.Errorf("register functions: %w", err)
	}

	switches, err := dispatch.SwitchesSchema()
	if err != nil {
		return err
	}
	shutters, err := dispatch.ShuttersSchema()
	if err != nil {
		return err
	}
	renderer, err := render.New(render.Functions{Switches: switches, Shutters: shutters})
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	// --- Host extension and loop ---
	ext := host.New(manifest(), cfg.Enabled(), logger.With("component", "host"))
	ext.SetFunctions(registry)
	ext.SetEventBus(bus)

	loop := reconcile.New(reconcile.Config{
		Source:    client,
		Renderer:  renderer,
		Publisher: ext,
		Interval:  cfg.Refresh.Interval(),
		Events:    bus,
		Logger:    logger.With("component", "reconcile"),
	})
	ext.OnBoot(loop.Trigger)
	ext.OnEnable(loop.Trigger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, ext, params, loop, logger.With("component", "api"))
	server.SetEventBus(bus)
	server.OnParameterChange(func(string) { loop.Trigger() })

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go loop.Run(ctx)

	// --- MQTT mirror ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPub = mqtt.New(cfg.MQTT, ext, logger.With("component", "mqtt"))
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt mirror enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
		)
	} else {
		logger.Info("mqtt mirror disabled (not configured)")
	}

	// The process is its own host: booting it starts the first cycle.
	ext.Boot()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info(buildinfo.Name + " stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
