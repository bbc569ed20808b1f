// Command dgxd is the headless bridge server: it advertises a fixed
// RPC/video/input port triplet on the discovery port, accepts exactly
// one PC client session at a time, and streams the X11 desktop to it
// while applying injected input and serving the file bridge.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeeshMakes/dgx-bridge/internal/capture"
	"github.com/MeeshMakes/dgx-bridge/internal/config"
	"github.com/MeeshMakes/dgx-bridge/internal/discovery"
	"github.com/MeeshMakes/dgx-bridge/internal/filebridge"
	"github.com/MeeshMakes/dgx-bridge/internal/input"
	"github.com/MeeshMakes/dgx-bridge/internal/logging"
	"github.com/MeeshMakes/dgx-bridge/internal/resolution"
	"github.com/MeeshMakes/dgx-bridge/internal/session"
)

var (
	version = "0.1.0"
	cfgFile string

	flagHost    string
	flagRPC     int
	flagVideo   int
	flagInput   int
	flagFPS     int
	flagQuality int
	flagNoGUI   bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "dgxd",
	Short: "Headless desktop bridge server",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dgxd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/dgx-bridge/server.yaml)")
	runCmd.Flags().StringVar(&flagHost, "host", "", "listen host or IP (overrides config)")
	runCmd.Flags().IntVar(&flagRPC, "rpc", 0, "pin the RPC channel port instead of scanning the range")
	runCmd.Flags().IntVar(&flagVideo, "video", 0, "pin the video channel port instead of scanning the range")
	runCmd.Flags().IntVar(&flagInput, "input", 0, "pin the input channel port instead of scanning the range")
	runCmd.Flags().IntVar(&flagFPS, "fps", 0, "default capture frame rate (overrides config)")
	runCmd.Flags().IntVar(&flagQuality, "quality", 0, "default JPEG quality, 40-100 (overrides config)")
	runCmd.Flags().BoolVar(&flagNoGUI, "no-gui", false, "accepted for CLI parity; this build has no GUI shell to suppress")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func initLogging(cfg *config.ServerConfig) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func runServer() {
	cfg, err := config.LoadServerConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if flagHost != "" {
		cfg.ListenHost = flagHost
	}
	if flagFPS > 0 {
		cfg.DefaultFPS = clampRange(flagFPS, 1, 120)
	}
	if flagQuality > 0 {
		cfg.DefaultQuality = clampRange(flagQuality, 40, 100)
	}
	initLogging(cfg)
	log.Info("starting dgxd", "version", version, "discoveryPort", cfg.DiscoveryPort)
	if flagNoGUI {
		log.Debug("--no-gui passed; this build has no GUI shell, flag is a no-op")
	}

	var triplet discovery.Triplet
	if flagRPC > 0 && flagVideo > 0 && flagInput > 0 {
		triplet = discovery.Triplet{RPC: flagRPC, Video: flagVideo, Input: flagInput}
		log.Info("using pinned rpc/video/input ports from flags",
			"rpc", flagRPC, "video", flagVideo, "input", flagInput)
	} else {
		free := discovery.ScanLocalFreePorts(cfg.PortRangeStart, cfg.PortRangeEnd, 3)
		if len(free) < 3 {
			log.Error("not enough free ports in range to reserve rpc/video/input triplet",
				"rangeStart", cfg.PortRangeStart, "rangeEnd", cfg.PortRangeEnd)
			os.Exit(1)
		}
		triplet = discovery.Triplet{RPC: free[0], Video: free[1], Input: free[2]}
	}

	pump, err := capture.NewPump(0, cfg.DefaultFPS, cfg.DefaultQuality)
	if err != nil {
		log.Error("failed to initialize screen capture", "error", err)
		os.Exit(1)
	}
	defer pump.Close()

	resWatcher := resolution.New()

	injector := input.New()
	defer injector.Close()

	bridge, err := filebridge.New(cfg.StagingRoot, cfg.LegacyTransferRoot)
	if err != nil {
		log.Error("failed to initialize file bridge", "error", err)
		os.Exit(1)
	}

	shutdownCh := make(chan struct{})
	shutdownOnce := func() func() {
		var fired bool
		return func() {
			if fired {
				return
			}
			fired = true
			close(shutdownCh)
		}
	}()

	supervisor := session.New(session.Config{
		Host:         cfg.ListenHost,
		Triplet:      triplet,
		AgentVersion: version,
		Capture:      pump,
		Resolution:   resWatcher,
		Input:        injector,
		Cursor:       injector,
		Files:        bridge,
		FileOps:      bridge,
		Shutdown:     shutdownOnce,
	})
	if err := supervisor.Start(); err != nil {
		log.Error("failed to start session listeners", "error", err)
		os.Exit(1)
	}
	defer supervisor.Close()

	resWatcher.Start(func(width, height int) {
		supervisor.NotifyResolutionChanged(width, height)
	})
	defer resWatcher.Stop()

	disc, err := discovery.Listen(cfg.ListenHost, cfg.DiscoveryPort, triplet, supervisor.Active)
	if err != nil {
		log.Error("failed to start discovery listener", "error", err)
		os.Exit(1)
	}
	defer disc.Close()

	log.Info("dgxd is running",
		"rpc", triplet.RPC, "video", triplet.Video, "input", triplet.Input)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("shutting down dgxd")
	case <-shutdownCh:
		log.Info("shutdown requested over control channel")
	}
}
