// Package capture implements the interception layer that rides a target
// application's graphics call stream: per-object bookkeeping records, the
// create/destroy hooks, the per-device swapchain export manager, and the
// per-present copy pipeline that keeps an exported frame current.
package capture

import (
	"sync"

	"github.com/framelink-io/framelink/internal/gfx"
	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/registry"
	"github.com/framelink-io/framelink/internal/wire"
)

var log = logging.L("capture")

// Transport is the capture side of the socket protocol. Implementations must
// never block the present path.
type Transport interface {
	// Poll performs a throttled liveness check: a connect attempt when
	// disconnected, a non-blocking read when connected.
	Poll()
	// ShouldInit reports that the consumer is reachable and no capture is
	// running yet.
	ShouldInit() bool
	// ShouldStop reports that a capture is running but the consumer is gone.
	ShouldStop() bool
	// Announce sends the frame descriptor plus its plane fds and marks the
	// session capturing. The capturing mark sticks even when the send fails;
	// the next liveness poll is what detects a dead consumer.
	Announce(td wire.TextureData, fds []int)
	// StopCapture clears the capturing mark.
	StopCapture()
}

// Registries is the injected bookkeeping root. Instances and devices are
// top-level categories; queues and swapchains hang off their owning device
// record so each category keeps its own lock domain.
type Registries struct {
	Instances *registry.Store[gfx.Handle, *InstanceRecord]
	Devices   *registry.Store[gfx.Handle, *DeviceRecord]
}

// NewRegistries creates empty stores.
func NewRegistries() *Registries {
	return &Registries{
		Instances: registry.New[gfx.Handle, *InstanceRecord](),
		Devices:   registry.New[gfx.Handle, *DeviceRecord](),
	}
}

// InstanceRecord tracks one intercepted instance, keyed by its dispatch key.
type InstanceRecord struct {
	Instance   gfx.Instance
	Procs      gfx.InstanceProcs
	APIVersion gfx.APIVersion
	// Valid means every instance-level entry point resolved. An invalid
	// instance makes every device created from it invalid too.
	Valid bool
}

// DeviceRecord tracks one intercepted device. mu guards the export state and
// the queue frame rings; the hooks mutate them from the present path and
// from destroy paths.
type DeviceRecord struct {
	Device    gfx.Device
	Phys      gfx.PhysicalDevice
	Instance  *InstanceRecord
	Procs     gfx.DeviceProcs
	Allocator gfx.Allocator

	Queues     *registry.Store[gfx.Handle, *QueueRecord]
	Swapchains *registry.Store[gfx.Swapchain, *SwapchainRecord]

	mu sync.Mutex
	// Valid gates capture only; delegation keeps working on an invalid
	// device. Cleared when proc resolution came up short or when export
	// initialization failed.
	Valid bool
	// Export is the swapchain currently exported, nil in the No-Export state.
	// At most one swapchain per device is ever exported.
	Export *SwapchainRecord
}

type frameSlot struct {
	pool    gfx.CommandPool
	cb      gfx.CommandBuffer
	fence   gfx.Fence
	pending bool
}

// QueueRecord tracks one device queue. The frame ring is created lazily on
// the first captured present through this queue and sized to the swapchain
// image count.
type QueueRecord struct {
	Queue  gfx.Queue
	Family uint32
	// SupportsTransfer is tagged at device creation from the family flags;
	// presents on queues without it are never captured.
	SupportsTransfer bool

	slots []frameSlot
	next  int
}

// SwapchainRecord tracks one intercepted swapchain and, while this swapchain
// is the device's export, the exported image state.
type SwapchainRecord struct {
	Swapchain gfx.Swapchain
	Format    gfx.Format
	Extent    gfx.Extent2D
	Images    []gfx.Image

	ExportImage  gfx.Image
	ExportMemory gfx.DeviceMemory
	ExportLayout gfx.SubresourceLayout
	ExportFd     int
	// Captured is set once the descriptor was announced for this export,
	// regardless of whether the announcement reached the consumer.
	Captured bool
}
