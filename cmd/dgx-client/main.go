// Command dgx-client is the PC-side bridge client: it discovers a
// dgxd server's port triplet, maintains the three-channel connection
// with automatic reconnect, and can push or pull files through the
// file bridge from the command line.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeeshMakes/dgx-bridge/internal/clientconn"
	"github.com/MeeshMakes/dgx-bridge/internal/config"
	"github.com/MeeshMakes/dgx-bridge/internal/discovery"
	"github.com/MeeshMakes/dgx-bridge/internal/logging"
	"github.com/MeeshMakes/dgx-bridge/internal/transfer"
)

var (
	version    = "0.1.0"
	cfgFile    string
	serverHost string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "dgx-client",
	Short: "PC-side desktop bridge client",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a bridge server and stay connected",
	Run: func(cmd *cobra.Command, args []string) {
		runClient()
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [file]...",
	Short: "Upload one or more files/folders to the server's staging area",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTransfer(args, transfer.DirectionUpload)
	},
}

var getCmd = &cobra.Command{
	Use:   "get [remote-folder] [filename] [local-dest]",
	Short: "Download a single file from the server's legacy outbox/staging area",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		runGet(args[0], args[1], args[2])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dgx-client v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/dgx-bridge/client.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "bridge server host or IP")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.ClientConfig) {
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

func loadConfig() *config.ClientConfig {
	cfg, err := config.LoadClientConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if serverHost != "" {
		cfg.ServerHost = serverHost
	}
	if cfg.ServerHost == "" {
		fmt.Fprintln(os.Stderr, "server host required: pass --host or set server_host in config")
		os.Exit(1)
	}
	return cfg
}

// resolveTriplet tries the cached triplet first, falling back to a
// fresh discovery-port negotiation, and refreshes the cache either way.
func resolveTriplet(cfg *config.ClientConfig) (discovery.Triplet, error) {
	if cached, ok, err := discovery.LoadCachedTriplet(cfg.PortCacheFile, cfg.ServerHost); err == nil && ok {
		log.Info("using cached port triplet", "host", cfg.ServerHost, "rpc", cached.RPC)
		return cached, nil
	}

	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	triplet, err := discovery.Negotiate(cfg.ServerHost, cfg.DiscoveryPort, nil, timeout)
	if err != nil {
		return discovery.Triplet{}, err
	}
	if err := discovery.SaveCachedTriplet(cfg.PortCacheFile, cfg.ServerHost, triplet); err != nil {
		log.Warn("failed to persist port cache", "error", err)
	}
	return triplet, nil
}

func runClient() {
	cfg := loadConfig()
	initLogging(cfg)
	log.Info("starting dgx-client", "version", version, "host", cfg.ServerHost)

	triplet, err := resolveTriplet(cfg)
	if err != nil {
		log.Error("failed to resolve bridge server's port triplet", "error", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down dgx-client")
		close(stop)
	}()

	clientconn.RunWithReconnect(clientconn.Config{
		Host:                 cfg.ServerHost,
		Triplet:              triplet,
		AgentVersion:         version,
		ReconnectBaseSeconds: cfg.ReconnectBaseSeconds,
		ReconnectMaxSeconds:  cfg.ReconnectMaxSeconds,
		Callbacks: clientconn.Callbacks{
			OnFrame: func(jpeg []byte) {
				log.Debug("frame received", "bytes", len(jpeg))
			},
			OnDisconnect: func() {
				log.Warn("disconnected from bridge server")
			},
			OnPing: func(ms float64) {
				log.Debug("ping", "ms", ms)
			},
			OnCursor: func(shape string) {
				log.Debug("cursor shape changed", "shape", shape)
			},
			OnResolutionChanged: func(width, height int) {
				log.Info("server resolution changed", "width", width, "height", height)
			},
		},
	}, stop)
}

func connectOnce(cfg *config.ClientConfig) (*clientconn.Conn, error) {
	triplet, err := resolveTriplet(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve triplet: %w", err)
	}

	conn := clientconn.New(clientconn.Config{
		Host:         cfg.ServerHost,
		Triplet:      triplet,
		AgentVersion: version,
	})
	if _, err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

func runTransfer(paths []string, direction transfer.Direction) {
	cfg := loadConfig()
	initLogging(cfg)

	conn, err := connectOnce(cfg)
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	sess, err := transfer.NewSession(cfg.StagingDir)
	if err != nil {
		log.Error("failed to start transfer session", "error", err)
		os.Exit(1)
	}

	job, err := sess.MakeJob(paths, "")
	if err != nil {
		log.Error("failed to build transfer job", "error", err)
		os.Exit(1)
	}

	worker := transfer.NewWorker(conn, sess, transfer.Callbacks{
		OnStatus: func(msg string) { fmt.Println(msg) },
		OnItemComplete: func(itemID string, ok bool, message string) {
			if ok {
				fmt.Printf("done: %s\n", itemID)
			} else {
				fmt.Fprintf(os.Stderr, "failed: %s: %s\n", itemID, message)
			}
		},
	})
	worker.Run(job, direction)
}

func runGet(remoteFolder, filename, localDest string) {
	cfg := loadConfig()
	initLogging(cfg)

	conn, err := connectOnce(cfg)
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	if err := conn.GetFile(remoteFolder, filename, localDest, func(done, total int64) {
		fmt.Printf("\r%d/%d bytes", done, total)
	}); err != nil {
		fmt.Println()
		log.Error("get failed", "error", err)
		os.Exit(1)
	}
	fmt.Println()
	fmt.Println("done")
}
