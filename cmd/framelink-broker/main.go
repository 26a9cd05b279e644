package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framelink-io/framelink/internal/broker"
	"github.com/framelink-io/framelink/internal/config"
	"github.com/framelink-io/framelink/internal/health"
	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/status"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "framelink-broker",
	Short: "Framelink capture broker",
	Long:  `Framelink Broker - accepts zero-copy frame capture clients over a unix socket and arbitrates the active producer`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the broker",
	Run: func(cmd *cobra.Command, args []string) {
		runBroker()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Framelink Broker v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running broker's status endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is framelink.yaml in the user config dir)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBroker() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Validate()

	var rotator *logging.RotatingWriter
	logOut := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		rotator, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer rotator.Close()
		logOut = logging.TeeWriter(os.Stderr, rotator)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logOut)
	log := logging.L("main")

	log.Info("starting broker", "version", version, "socket", cfg.SocketPath)

	mon := health.NewMonitor()
	b := broker.New(broker.Options{
		SocketPath:   cfg.SocketPath,
		MaxClients:   cfg.MaxClients,
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
	})
	if err := b.Start(context.Background()); err != nil {
		log.Error("broker start failed", logging.KeyError, err)
		os.Exit(1)
	}
	mon.Update("listener", health.Healthy, "")

	var statusSrv *status.Server
	if cfg.StatusListenAddr != "" {
		statusSrv = status.New(cfg.StatusListenAddr, b, mon)
		if err := statusSrv.Start(); err != nil {
			log.Error("status server start failed", logging.KeyError, err)
			mon.Update("status", health.Unhealthy, err.Error())
		} else {
			mon.Update("status", health.Healthy, "")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if rotator != nil {
				if err := rotator.Reopen(); err != nil {
					log.Error("log reopen failed", logging.KeyError, err)
				} else {
					log.Info("log file reopened")
				}
			}
			continue
		}
		break
	}

	log.Info("shutting down", "grace", cfg.ShutdownGraceSecs)
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownGraceSecs)*time.Second)
	defer cancel()

	if statusSrv != nil {
		statusSrv.Stop(ctx)
	}
	b.Stop(ctx)
}

func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Println("Status: not configured")
		return
	}
	if cfg.StatusListenAddr == "" {
		fmt.Println("Status: no status endpoint configured (set status_listen_addr)")
		return
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", cfg.StatusListenAddr))
	if err != nil {
		fmt.Printf("Status: broker unreachable (%v)\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Status: bad response (%v)\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}
