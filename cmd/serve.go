package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tep-monitor/tep-monitor/monitor"
	"github.com/tep-monitor/tep-monitor/monitor/api"
	"github.com/tep-monitor/tep-monitor/monitor/llm"
	"github.com/tep-monitor/tep-monitor/monitor/pca"
	"github.com/tep-monitor/tep-monitor/monitor/store"
	"github.com/tep-monitor/tep-monitor/monitor/stream"
	"github.com/tep-monitor/tep-monitor/monitor/tepsim"
)

var (
	// CLI flags for the monitoring server
	listenAddr     string // HTTP listen address
	storeDir       string // Analysis record directory
	providersPath  string // providers.yaml path
	initialSpeed   string // Initial speed preset
	windowSize     int    // Sliding window length in frames
	eventPersist   int    // Consecutive frames to open/close an anomaly event
	topFeatures    int    // Contributing features reported per anomaly
	minIntervalSec int    // Minimum seconds between LLM dispatches
	jaccardGate    float64
	autostart      bool // Begin stepping immediately instead of waiting for POST /simulation/start
)

// serveCmd runs the monitoring pipeline and its HTTP control surface
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor: simulator, detector, LLM dispatcher, and REST/SSE API",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		speed, err := monitor.ParseSpeedPreset(initialSpeed)
		if err != nil {
			logrus.Fatalf("Invalid speed preset: %v", err)
		}
		model, err := pca.Load(baselinePath)
		if err != nil {
			logrus.Fatalf("Loading baseline %s: %v", baselinePath, err)
		}
		detector, err := pca.NewDetector(model, topFeatures)
		if err != nil {
			logrus.Fatalf("Building detector: %v", err)
		}
		st, err := store.New(storeDir)
		if err != nil {
			logrus.Fatalf("Opening analysis store: %v", err)
		}
		providers, err := LoadProviders(providersPath)
		if err != nil {
			logrus.Fatalf("Loading providers: %v", err)
		}
		if len(providers) == 0 {
			logrus.Warn("No LLM providers configured; running detection-only")
		}

		window := monitor.NewWindow(windowSize)
		control := monitor.NewControlPlane(speed)
		tracker := monitor.NewEventTracker(model.FeatureNames, eventPersist, topFeatures)
		bus := stream.NewBroadcaster(0)
		counters := &monitor.Counters{}
		process := tepsim.New(tepsim.Config{Seed: seed})

		var dispatcher *llm.Dispatcher
		var driverDispatch monitor.Dispatcher
		if len(providers) > 0 {
			dispatcher = llm.NewDispatcher(llm.DispatcherConfig{
				MinInterval:      time.Duration(minIntervalSec) * time.Second,
				JaccardThreshold: jaccardGate,
			}, providers, st, bus, tracker)
			driverDispatch = dispatcher
		}

		driver := monitor.NewDriver(monitor.DriverConfig{}, process, window, control,
			detector, tracker, bus, driverDispatch, counters)
		server := api.NewServer(driver, control, dispatcher, st, bus, baselinePath)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if dispatcher != nil {
			go dispatcher.Run(ctx)
		}
		if autostart {
			if err := driver.Start(); err != nil {
				logrus.Fatalf("Starting simulation: %v", err)
			}
		}

		httpServer := &http.Server{
			Addr:              listenAddr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logrus.Infof("Monitor listening on %s (baseline P=%d, threshold T2=%.2f, %d providers)",
				listenAddr, model.NumComponents(), model.ThresholdT2, len(providers))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Fatalf("HTTP server: %v", err)
			}
		}()

		<-ctx.Done()
		logrus.Info("Shutting down")
		_ = driver.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("HTTP shutdown: %v", err)
		}
		logrus.Info("Monitor stopped")
	},
}

// init sets up serve flags
func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&storeDir, "store-dir", "analyses", "Directory for analysis record files")
	serveCmd.Flags().StringVar(&providersPath, "providers", "providers.yaml", "LLM providers config path")
	serveCmd.Flags().StringVar(&initialSpeed, "speed", "demo", "Initial speed preset (real, fast, demo)")
	serveCmd.Flags().IntVar(&windowSize, "window", monitor.DefaultWindowSize, "Sliding window length in frames")
	serveCmd.Flags().IntVar(&eventPersist, "event-persistence", monitor.DefaultNConsec, "Consecutive frames required to open or close an anomaly event")
	serveCmd.Flags().IntVar(&topFeatures, "top-features", pca.DefaultTopK, "Contributing features reported per anomaly")
	serveCmd.Flags().IntVar(&minIntervalSec, "min-dispatch-interval", 70, "Minimum seconds between LLM dispatches")
	serveCmd.Flags().Float64Var(&jaccardGate, "jaccard-threshold", 1.0, "Top-feature similarity above which a re-dispatch is suppressed")
	serveCmd.Flags().BoolVar(&autostart, "autostart", false, "Start stepping immediately")

	rootCmd.AddCommand(serveCmd)
}
