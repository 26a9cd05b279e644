// Package gfx defines the abstracted graphics driver surface the capture
// layer is built against: opaque object handles, the value types passed
// through intercepted entry points, and proc-table resolution with explicit
// pass-through fallback for unresolved entry points.
package gfx

import "errors"

// Handle identifies a driver object. Zero is the null handle.
type Handle uint64

// DispatchHandle is a dispatchable handle. Key is the dispatch-table key the
// loader embeds in the handle; wrapped or trampolined handles share their
// owner's key, so bookkeeping keyed on it resolves them to the same record.
// Instances, physical devices, devices, queues and command buffers are
// dispatchable; their Key ties queues back to the owning device and physical
// devices back to the owning instance.
type DispatchHandle struct {
	Handle Handle
	Key    Handle
}

type (
	Instance       DispatchHandle
	PhysicalDevice DispatchHandle
	Device         DispatchHandle
	Queue          DispatchHandle
	CommandBuffer  DispatchHandle
)

type (
	Swapchain    Handle
	Image        Handle
	DeviceMemory Handle
	CommandPool  Handle
	Fence        Handle
)

// APIVersion is a packed major/minor driver API version.
type APIVersion uint32

// Version packs an API version the way the loader encodes it.
func Version(major, minor uint32) APIVersion {
	return APIVersion(major<<22 | minor<<12)
}

var (
	APIVersion1_0 = Version(1, 0)
	APIVersion1_2 = Version(1, 2)
)

// ExtExternalMemoryFd is the device extension that enables exporting device
// memory as a file descriptor. The layer injects it at device creation.
const ExtExternalMemoryFd = "external_memory_fd"

// NoModifier is the sentinel modifier value meaning "no explicit format
// modifier"; receivers must not treat it as a real modifier.
const NoModifier uint64 = 0x00ffffffffffffff

// Queue family constants for ownership-transfer barriers.
const (
	QueueFamilyIgnored  uint32 = ^uint32(0)
	QueueFamilyExternal uint32 = ^uint32(0) - 1
)

// Format is an opaque pixel format tag; the layer transports it unchanged.
type Format int32

type Extent2D struct {
	Width  uint32
	Height uint32
}

type ImageUsage uint32

const (
	UsageTransferSrc ImageUsage = 1 << iota
	UsageTransferDst
	UsageColorAttachment
)

type ImageTiling int32

const (
	TilingOptimal ImageTiling = iota
	TilingLinear
)

type ImageLayout int32

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutPresentSrc
	LayoutTransferSrcOptimal
	LayoutTransferDstOptimal
)

type AccessFlags uint32

const (
	AccessMemoryRead AccessFlags = 1 << iota
	AccessTransferRead
	AccessTransferWrite
)

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageBottomOfPipe
	StageTransfer
)

type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
)

type QueueFamilyProperties struct {
	Flags QueueFlags
}

type MemoryPropertyFlags uint32

const (
	MemoryDeviceLocal MemoryPropertyFlags = 1 << iota
	MemoryHostVisible
)

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
}

type MemoryProperties struct {
	Types []MemoryType
}

// MemoryRequirements carries both the plain requirements and the dedicated
// allocation preference, queried together at export-image creation.
type MemoryRequirements struct {
	Size             uint64
	Alignment        uint64
	MemoryTypeBits   uint32
	PrefersDedicated bool
}

// SubresourceLayout describes the byte layout of a linear-tiled image.
type SubresourceLayout struct {
	Offset   uint64
	Size     uint64
	RowPitch uint64
}

type ImageCreateInfo struct {
	Format        Format
	Extent        Extent2D
	Usage         ImageUsage
	Tiling        ImageTiling
	InitialLayout ImageLayout
}

type MemoryAllocateInfo struct {
	Size      uint64
	TypeIndex uint32
}

type SwapchainCreateInfo struct {
	Format     Format
	Extent     Extent2D
	ImageUsage ImageUsage
	// Chain is the loader's device-level layer chain for the create call;
	// swapchain creation itself does not consume it.
}

// PresentInfo describes one presentation call. A single call may cover
// several swapchains; ImageIndices is parallel to Swapchains.
type PresentInfo struct {
	Swapchains   []Swapchain
	ImageIndices []uint32
}

type ImageMemoryBarrier struct {
	SrcAccess      AccessFlags
	DstAccess      AccessFlags
	OldLayout      ImageLayout
	NewLayout      ImageLayout
	SrcQueueFamily uint32
	DstQueueFamily uint32
	Image          Image
}

// ImageCopy is a full-subresource copy region; the layer only ever copies
// the complete extent.
type ImageCopy struct {
	Extent Extent2D
}

type SubmitInfo struct {
	CommandBuffers []CommandBuffer
}

// QueueCreateInfo requests Count queues from one family at device creation.
type QueueCreateInfo struct {
	FamilyIndex uint32
	Count       uint32
}

// LayerLink is one element of the loader's layer-chain metadata. Each layer
// must advance the chain to Next before delegating creation downward.
type LayerLink struct {
	Next     *LayerLink
	Resolver ProcResolver
}

type InstanceCreateInfo struct {
	APIVersion        APIVersion
	EnabledExtensions []string
	Chain             *LayerLink
}

type DeviceCreateInfo struct {
	QueueCreateInfos  []QueueCreateInfo
	EnabledExtensions []string
	Chain             *LayerLink
}

// ErrNoChain is returned when a create call arrives without loader chain
// metadata; the layer cannot reach the next layer and must fail the call.
var ErrNoChain = errors.New("gfx: missing layer chain link info")

// ErrNoDelegate is returned when an intercepted call cannot be forwarded
// because the underlying entry point was never resolved.
var ErrNoDelegate = errors.New("gfx: no delegate for intercepted call")
