package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/framelink-io/framelink/internal/broker"
	"github.com/framelink-io/framelink/internal/config"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream frame events from a running broker",
	Run: func(cmd *cobra.Command, args []string) {
		watchEvents()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watchEvents() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.StatusListenAddr == "" {
		fmt.Fprintln(os.Stderr, "No status endpoint configured (set status_listen_addr).")
		os.Exit(1)
	}

	url := fmt.Sprintf("ws://%s/events", cfg.StatusListenAddr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Broker unreachable: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
	}()

	fmt.Printf("Watching %s\n", url)
	for {
		var ev broker.FrameEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		fmt.Printf("%s client=%d buffer=%d\n",
			time.Now().Format(time.TimeOnly), ev.ClientID, ev.BufferID)
	}
}
