package gfx

// ProcResolver resolves driver entry points by name. A nil result means the
// next layer does not provide the entry point; callers keep the matching
// proc-table field nil and treat the operation as pass-through-only.
type ProcResolver interface {
	Resolve(name string) any
}

// Entry point names. Interception dispatches on these keys; the same names
// are used to resolve delegates from the next layer in the chain.
const (
	ProcCreateInstance                         = "CreateInstance"
	ProcDestroyInstance                        = "DestroyInstance"
	ProcGetPhysicalDeviceQueueFamilyProperties = "GetPhysicalDeviceQueueFamilyProperties"
	ProcGetPhysicalDeviceMemoryProperties      = "GetPhysicalDeviceMemoryProperties"

	ProcCreateDevice              = "CreateDevice"
	ProcDestroyDevice             = "DestroyDevice"
	ProcGetDeviceQueue            = "GetDeviceQueue"
	ProcCreateSwapchain           = "CreateSwapchain"
	ProcDestroySwapchain          = "DestroySwapchain"
	ProcGetSwapchainImages        = "GetSwapchainImages"
	ProcQueuePresent              = "QueuePresent"
	ProcCreateImage               = "CreateImage"
	ProcDestroyImage              = "DestroyImage"
	ProcGetImageSubresourceLayout = "GetImageSubresourceLayout"
	ProcGetImageMemoryRequirements = "GetImageMemoryRequirements"
	ProcAllocateMemory            = "AllocateMemory"
	ProcFreeMemory                = "FreeMemory"
	ProcBindImageMemory           = "BindImageMemory"
	ProcGetMemoryFd               = "GetMemoryFd"
	ProcCreateCommandPool         = "CreateCommandPool"
	ProcDestroyCommandPool        = "DestroyCommandPool"
	ProcResetCommandPool          = "ResetCommandPool"
	ProcAllocateCommandBuffer     = "AllocateCommandBuffer"
	ProcBeginCommandBuffer        = "BeginCommandBuffer"
	ProcEndCommandBuffer          = "EndCommandBuffer"
	ProcCmdPipelineBarrier        = "CmdPipelineBarrier"
	ProcCmdCopyImage              = "CmdCopyImage"
	ProcCreateFence               = "CreateFence"
	ProcDestroyFence              = "DestroyFence"
	ProcWaitForFences             = "WaitForFences"
	ProcResetFences               = "ResetFences"
	ProcQueueSubmit               = "QueueSubmit"
)

// Creation delegates resolved from the chain before any record exists.
type (
	CreateInstanceFunc = func(*InstanceCreateInfo, Allocator) (Instance, error)
	CreateDeviceFunc   = func(PhysicalDevice, *DeviceCreateInfo, Allocator) (Device, error)
)

// InstanceProcs holds the instance-level entry points the capture layer
// needs after instance creation. Unresolved fields stay nil.
type InstanceProcs struct {
	DestroyInstance       func(Instance, Allocator)
	QueueFamilyProperties func(PhysicalDevice) []QueueFamilyProperties
	MemoryProperties      func(PhysicalDevice) MemoryProperties
}

// DeviceProcs holds every device-level entry point the export manager and
// the per-present pipeline need. Unresolved fields stay nil.
type DeviceProcs struct {
	DestroyDevice             func(Device, Allocator)
	GetDeviceQueue            func(Device, uint32, uint32) Queue
	CreateSwapchain           func(Device, *SwapchainCreateInfo, Allocator) (Swapchain, error)
	DestroySwapchain          func(Device, Swapchain, Allocator)
	GetSwapchainImages        func(Device, Swapchain) ([]Image, error)
	QueuePresent              func(Queue, *PresentInfo) error
	CreateImage               func(Device, *ImageCreateInfo, Allocator) (Image, error)
	DestroyImage              func(Device, Image, Allocator)
	GetImageSubresourceLayout func(Device, Image) SubresourceLayout
	GetImageMemoryRequirements func(Device, Image) MemoryRequirements
	AllocateMemory            func(Device, *MemoryAllocateInfo, Allocator) (DeviceMemory, error)
	FreeMemory                func(Device, DeviceMemory, Allocator)
	BindImageMemory           func(Device, Image, DeviceMemory) error
	GetMemoryFd               func(Device, DeviceMemory) (int, error)
	CreateCommandPool         func(Device, uint32, Allocator) (CommandPool, error)
	DestroyCommandPool        func(Device, CommandPool, Allocator)
	ResetCommandPool          func(Device, CommandPool) error
	AllocateCommandBuffer     func(Device, CommandPool) (CommandBuffer, error)
	BeginCommandBuffer        func(CommandBuffer) error
	EndCommandBuffer          func(CommandBuffer) error
	CmdPipelineBarrier        func(CommandBuffer, PipelineStage, PipelineStage, []ImageMemoryBarrier)
	CmdCopyImage              func(CommandBuffer, Image, ImageLayout, Image, ImageLayout, ImageCopy)
	CreateFence               func(Device, Allocator) (Fence, error)
	DestroyFence              func(Device, Fence, Allocator)
	WaitForFences             func(Device, []Fence, uint64) error
	ResetFences               func(Device, []Fence) error
	QueueSubmit               func(Queue, SubmitInfo, Fence) error
}

func resolveProc[F any](r ProcResolver, name string, dst *F, missing *[]string) {
	if f, ok := r.Resolve(name).(F); ok {
		*dst = f
		return
	}
	*missing = append(*missing, name)
}

// ResolveInstanceProcs fills an InstanceProcs table from r and returns the
// names that failed to resolve. Any missing name means the owning instance
// record must be marked invalid.
func ResolveInstanceProcs(r ProcResolver) (InstanceProcs, []string) {
	var p InstanceProcs
	var missing []string
	resolveProc(r, ProcDestroyInstance, &p.DestroyInstance, &missing)
	resolveProc(r, ProcGetPhysicalDeviceQueueFamilyProperties, &p.QueueFamilyProperties, &missing)
	resolveProc(r, ProcGetPhysicalDeviceMemoryProperties, &p.MemoryProperties, &missing)
	return p, missing
}

// ResolveDeviceProcs fills a DeviceProcs table from r and returns the names
// that failed to resolve. Any missing name leaves the device record invalid
// and every intercepted call on it pass-through.
func ResolveDeviceProcs(r ProcResolver) (DeviceProcs, []string) {
	var p DeviceProcs
	var missing []string
	resolveProc(r, ProcDestroyDevice, &p.DestroyDevice, &missing)
	resolveProc(r, ProcGetDeviceQueue, &p.GetDeviceQueue, &missing)
	resolveProc(r, ProcCreateSwapchain, &p.CreateSwapchain, &missing)
	resolveProc(r, ProcDestroySwapchain, &p.DestroySwapchain, &missing)
	resolveProc(r, ProcGetSwapchainImages, &p.GetSwapchainImages, &missing)
	resolveProc(r, ProcQueuePresent, &p.QueuePresent, &missing)
	resolveProc(r, ProcCreateImage, &p.CreateImage, &missing)
	resolveProc(r, ProcDestroyImage, &p.DestroyImage, &missing)
	resolveProc(r, ProcGetImageSubresourceLayout, &p.GetImageSubresourceLayout, &missing)
	resolveProc(r, ProcGetImageMemoryRequirements, &p.GetImageMemoryRequirements, &missing)
	resolveProc(r, ProcAllocateMemory, &p.AllocateMemory, &missing)
	resolveProc(r, ProcFreeMemory, &p.FreeMemory, &missing)
	resolveProc(r, ProcBindImageMemory, &p.BindImageMemory, &missing)
	resolveProc(r, ProcGetMemoryFd, &p.GetMemoryFd, &missing)
	resolveProc(r, ProcCreateCommandPool, &p.CreateCommandPool, &missing)
	resolveProc(r, ProcDestroyCommandPool, &p.DestroyCommandPool, &missing)
	resolveProc(r, ProcResetCommandPool, &p.ResetCommandPool, &missing)
	resolveProc(r, ProcAllocateCommandBuffer, &p.AllocateCommandBuffer, &missing)
	resolveProc(r, ProcBeginCommandBuffer, &p.BeginCommandBuffer, &missing)
	resolveProc(r, ProcEndCommandBuffer, &p.EndCommandBuffer, &missing)
	resolveProc(r, ProcCmdPipelineBarrier, &p.CmdPipelineBarrier, &missing)
	resolveProc(r, ProcCmdCopyImage, &p.CmdCopyImage, &missing)
	resolveProc(r, ProcCreateFence, &p.CreateFence, &missing)
	resolveProc(r, ProcDestroyFence, &p.DestroyFence, &missing)
	resolveProc(r, ProcWaitForFences, &p.WaitForFences, &missing)
	resolveProc(r, ProcResetFences, &p.ResetFences, &missing)
	resolveProc(r, ProcQueueSubmit, &p.QueueSubmit, &missing)
	return p, missing
}
