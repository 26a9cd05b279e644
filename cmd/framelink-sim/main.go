// framelink-sim stands in for a captured application: it drives the real
// interception layer and the real socket client against a deterministic mock
// driver, presenting frames at a fixed rate. Point it at a running broker to
// exercise the whole capture path without a GPU.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framelink-io/framelink/internal/capture"
	"github.com/framelink-io/framelink/internal/client"
	"github.com/framelink-io/framelink/internal/config"
	"github.com/framelink-io/framelink/internal/gfx"
	"github.com/framelink-io/framelink/internal/gfx/gfxmock"
	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/throttle"
)

var (
	socketPath    string
	width, height uint32
	frames        int
	interval      time.Duration
	livenessEvery int
)

var rootCmd = &cobra.Command{
	Use:   "framelink-sim",
	Short: "Simulated capture client driving the interception layer",
	Run: func(cmd *cobra.Command, args []string) {
		if err := simulate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVar(&socketPath, "socket", config.DefaultSocketPath, "broker socket path")
	rootCmd.Flags().Uint32Var(&width, "width", 1920, "swapchain width")
	rootCmd.Flags().Uint32Var(&height, "height", 1080, "swapchain height")
	rootCmd.Flags().IntVar(&frames, "frames", 0, "number of frames to present (0 = until interrupted)")
	rootCmd.Flags().DurationVar(&interval, "interval", 16*time.Millisecond, "delay between presents")
	rootCmd.Flags().IntVar(&livenessEvery, "liveness-every", 10, "presents between socket liveness checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func simulate() error {
	logging.Init("text", "info", nil)
	log := logging.L("sim")

	m := gfxmock.New()
	c := client.New(socketPath, throttle.New(livenessEvery, 0))
	defer c.Close()
	layer := capture.NewLayer(capture.NewRegistries(), c)

	inst, err := layer.CreateInstance(&gfx.InstanceCreateInfo{
		APIVersion: gfx.APIVersion1_0,
		Chain:      m.Chain(),
	}, nil)
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}

	dev, err := layer.CreateDevice(m.Phys(), &gfx.DeviceCreateInfo{
		QueueCreateInfos: []gfx.QueueCreateInfo{{FamilyIndex: 0, Count: 1}},
		Chain:            m.Chain(),
	}, nil)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	queue := m.GetDeviceQueue(dev, 0, 0)

	sc, err := layer.CreateSwapchain(dev, &gfx.SwapchainCreateInfo{
		Format:     44,
		Extent:     gfx.Extent2D{Width: width, Height: height},
		ImageUsage: gfx.UsageColorAttachment,
	}, nil)
	if err != nil {
		return fmt.Errorf("create swapchain: %w", err)
	}

	log.Info("presenting", "socket", socketPath,
		"width", width, "height", height, "interval", interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	imageCount := uint32(3)
	presented := 0
loop:
	for frames == 0 || presented < frames {
		select {
		case <-sigChan:
			break loop
		case <-time.After(interval):
		}

		err := layer.QueuePresent(queue, &gfx.PresentInfo{
			Swapchains:   []gfx.Swapchain{sc},
			ImageIndices: []uint32{uint32(presented) % imageCount},
		})
		if err != nil {
			return fmt.Errorf("present %d: %w", presented, err)
		}
		presented++
	}

	layer.DestroySwapchain(dev, sc, nil)
	layer.DestroyDevice(dev, nil)
	layer.DestroyInstance(inst, nil)

	fmt.Printf("presented %d frames, %d copies submitted, connected=%v\n",
		presented, m.CallCount(gfx.ProcCmdCopyImage), c.Connected())
	if v := m.Violations(); len(v) > 0 {
		fmt.Println("driver discipline violations:")
		for _, s := range v {
			fmt.Println("  " + s)
		}
		return fmt.Errorf("simulation found %d violations", len(v))
	}
	return nil
}
