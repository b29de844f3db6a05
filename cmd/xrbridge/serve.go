package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/xrdesk/xrbridge/internal/api"
	"github.com/xrdesk/xrbridge/internal/capture"
	"github.com/xrdesk/xrbridge/internal/chart"
	"github.com/xrdesk/xrbridge/internal/config"
	"github.com/xrdesk/xrbridge/internal/controlrpc"
	"github.com/xrdesk/xrbridge/internal/db"
	"github.com/xrdesk/xrbridge/internal/driveripc"
	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/fsutil"
	"github.com/xrdesk/xrbridge/internal/mockdevice"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/timeutil"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
	"github.com/xrdesk/xrbridge/internal/version"
	"github.com/xrdesk/xrbridge/internal/watch"
)

// pruneInterval is how often dead virtual display helpers are dropped.
const pruneInterval = 2 * time.Second

type serveOptions struct {
	// Dev publishes synthetic telemetry and uses in-memory displays with
	// no driver bridge.
	Dev bool
	// Capture records every telemetry read into the capture directory.
	Capture bool
	// Ready, when set, is called with the HTTP address once serving.
	Ready func(addr net.Addr)
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	configPath := fs.StringP("config", "c", "", "Path to a JSON/JSONC config file")
	listen := fs.String("listen", "", "HTTP listen address (overrides config)")
	socket := fs.String("socket", "", "Plugin gRPC unix socket (overrides config)")
	dbPath := fs.String("db", "", "History database path (overrides config)")
	telemetryPath := fs.String("telemetry", "", "Shared telemetry buffer (overrides config)")
	logFile := fs.String("log-file", "", "Rotated log file instead of stderr")
	debug := fs.Bool("debug", false, "Log dropped telemetry reads")
	dev := fs.Bool("dev", false, "Run without glasses: synthetic telemetry, no driver")
	record := fs.Bool("capture", false, "Record telemetry to the capture directory")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	override := func(name string, dst **string, v string) {
		if fs.Changed(name) {
			*dst = &v
		}
	}
	override("listen", &cfg.ListenAddr, *listen)
	override("socket", &cfg.GRPCSocket, *socket)
	override("db", &cfg.DBPath, *dbPath)
	override("telemetry", &cfg.TelemetryPath, *telemetryPath)
	override("log-file", &cfg.LogFile, *logFile)
	if fs.Changed("debug") {
		cfg.Debug = debug
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	closer := monitoring.Setup(monitoring.Options{File: cfg.GetLogFile(), Debug: cfg.GetDebug()})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, serveOptions{Dev: *dev, Capture: *record}); err != nil {
		log.Printf("xrbridge: %v", err)
		return 1
	}
	return 0
}

// serve runs the daemon until ctx is done.
func serve(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	log.Printf("starting %s", version.String())
	clock := timeutil.RealClock{}

	database, err := db.Open(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer database.Close()

	var backend vdisplay.Backend
	if helper := cfg.GetVirtualDisplayHelper(); helper != "" && !opts.Dev {
		backend = &vdisplay.ProcessBackend{Helper: helper, Framerate: cfg.GetVirtualDisplayFramerate()}
	} else {
		log.Printf("virtual displays are in-memory only (no helper configured)")
		backend = vdisplay.NewMockBackend()
	}

	// The engine and display log are created after the registry; the
	// listener only runs once both are set.
	var (
		engine     *effect.Engine
		displayLog *db.DisplayLog
	)
	registry := vdisplay.NewRegistry(backend, vdisplay.Options{
		Prefix: cfg.GetVirtualDisplayPrefix(),
		Clock:  clock,
		Store:  vdisplay.NewStore(fsutil.OSFileSystem{}, cfg.GetVirtualDisplayStore()),
		Listener: func(list []vdisplay.Info) {
			if engine != nil {
				engine.DisplaysChanged(list)
			}
			if displayLog != nil {
				displayLog.Changed(list)
			}
		},
	})

	var bridge driveripc.Bridge = driveripc.DisabledBridge{}
	if cfg.GetDriverBridge() && !opts.Dev {
		home, _ := os.UserHomeDir()
		bridge = driveripc.NewFileBridge(driveripc.FileOptions{
			Paths:         cfg.GetDriverPaths(home),
			ScriptTimeout: cfg.GetDriverScriptTimeout(),
		})
	}

	var sink effect.FrameSink
	if opts.Capture {
		w, path, err := capture.Create(cfg.GetCaptureDir(), clock.Now())
		if err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		defer func() {
			frames, dupes := w.Stats()
			if err := w.Close(); err != nil {
				log.Printf("capture close error: %v", err)
			}
			log.Printf("capture %s: %d frames, %d repeats skipped", path, frames, dupes)
		}()
		log.Printf("capturing telemetry to %s", path)
		sink = w
	}

	engine = effect.NewEngine(effect.Options{
		Path:                    cfg.GetTelemetryPath(),
		Clock:                   clock,
		Validator:               cfg.Validator(),
		ConfigInterval:          cfg.GetConfigRefreshInterval(),
		GracePeriod:             cfg.GetGracePeriod(),
		Bridge:                  bridge,
		BridgeTimeout:           cfg.GetBridgeTimeout(),
		CursorPadding:           cfg.GetCursorFallbackPadding(),
		Displays:                registry,
		RemoveDisplaysOnDisable: cfg.GetRemoveDisplaysOnDisable(),
		History:                 database,
		Sink:                    sink,
	})
	if n := registry.Restore(); n > 0 {
		log.Printf("restored %d virtual displays", n)
	}
	displayLog = db.NewDisplayLog(database, clock, registry.List())

	follow := engine.SmoothFollow()
	follow.SetAllDistance(ctx, cfg.GetAllDisplaysDistance())
	follow.SetFocusedDistance(ctx, cfg.GetFocusedDisplayDistance())
	follow.SetZoomOnFocus(ctx, cfg.GetZoomOnFocus())
	follow.SetThreshold(ctx, cfg.GetFollowThreshold())

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.Dev {
		path := cfg.GetTelemetryPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create telemetry dir: %w", err)
		}
		dev := mockdevice.New(mockdevice.Options{
			Path:     path,
			ResetFor: time.Second,
			Version:  cfg.GetExpectedVersion(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dev.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("mock device stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(runCtx, cfg.GetPollInterval())
		log.Print("telemetry loop terminated")
	}()

	if cfg.GetWatch() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := watch.Watch(runCtx, cfg.GetTelemetryPath(), watch.DefaultMask, func() { engine.Process(runCtx) })
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("file watch unavailable, polling only: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C():
				if dead := registry.Prune(); len(dead) > 0 {
					log.Printf("pruned exited virtual displays: %v", dead)
				}
			}
		}
	}()

	recorder := chart.NewRecorder(chart.DefaultCapacity)
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(runCtx, engine.Hub())
	}()

	rpc := controlrpc.NewServer(engine)
	lis, err := controlrpc.Listen(cfg.GetGRPCSocket())
	if err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("plugin socket: %w", err)
	}
	if err := rpc.Start(lis); err != nil {
		lis.Close()
		cancel()
		wg.Wait()
		return err
	}

	mux := api.NewServer(api.Options{
		Engine:        engine,
		Bridge:        bridge,
		BridgeTimeout: cfg.GetBridgeTimeout(),
		History:       database,
		Auth:          api.NewAuthenticator(cfg.GetAuthSecret(), clock),
		CaptureDir:    cfg.GetCaptureDir(),
	}).ServeMux()
	engine.AttachAdminRoutes(mux)
	recorder.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux, "history"); err != nil {
		log.Printf("history admin routes unavailable: %v", err)
	}

	httpLis, err := net.Listen("tcp", cfg.GetListenAddr())
	if err != nil {
		rpc.Stop()
		cancel()
		wg.Wait()
		return fmt.Errorf("failed to listen on %s: %w", cfg.GetListenAddr(), err)
	}
	server := &http.Server{
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", httpLis.Addr())
		if err := server.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if opts.Ready != nil {
		opts.Ready(httpLis.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server: %w", err)
	}
	log.Println("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	rpc.Stop()

	// Stop the loop before Shutdown so it cannot race a final pass.
	cancel()
	wg.Wait()
	engine.Shutdown(shutdownCtx)
	engine.Hub().Close()

	log.Printf("graceful shutdown complete")
	return runErr
}
