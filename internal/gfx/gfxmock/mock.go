// Package gfxmock is a deterministic in-memory graphics driver used by the
// capture tests and the simulator. It hands out real pipe file descriptors
// for exported memory, tracks object lifetimes so leaks are observable, and
// flags command-buffer reuse that races an unsignaled fence.
package gfxmock

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/gfx"
)

type fenceState int

const (
	fenceIdle fenceState = iota
	fencePending
	fenceSignaled
)

type swapchainInfo struct {
	info   gfx.SwapchainCreateInfo
	images []gfx.Image
}

type failure struct {
	err   error
	times int
}

// CopyCall records one recorded image copy for ordering assertions.
type CopyCall struct {
	Src       gfx.Image
	SrcLayout gfx.ImageLayout
	Dst       gfx.Image
	DstLayout gfx.ImageLayout
	Extent    gfx.Extent2D
}

// Live is a snapshot of live driver objects created through the mock.
type Live struct {
	Images   int
	Memories int
	Pools    int
	Buffers  int
	Fences   int
}

// Mock is a single instance + physical device + device driver stack.
// All entry points are safe for concurrent use.
type Mock struct {
	mu         sync.Mutex
	nextHandle gfx.Handle

	instKey gfx.Handle
	devKey  gfx.Handle

	instance gfx.Instance
	phys     gfx.PhysicalDevice
	device   gfx.Device

	families       []gfx.QueueFamilyProperties
	memTypes       []gfx.MemoryType
	memTypeBits    uint32
	imageCount     int
	instCreated    bool
	devCreated     bool
	instAPIVersion gfx.APIVersion

	queues     map[uint64]gfx.Queue
	queueFam   map[gfx.Handle]uint32
	swapchains map[gfx.Swapchain]*swapchainInfo
	images     map[gfx.Image]gfx.ImageCreateInfo
	memories   map[gfx.DeviceMemory]gfx.MemoryAllocateInfo
	bound      map[gfx.Image]gfx.DeviceMemory
	pools      map[gfx.CommandPool]uint32
	buffers    map[gfx.CommandBuffer]gfx.CommandPool
	fences     map[gfx.Fence]fenceState
	inFlight   map[gfx.CommandBuffer]gfx.Fence

	allocBufs map[gfx.Handle][]byte

	calls        []string
	barrierCalls [][]gfx.ImageMemoryBarrier
	copyCalls    []CopyCall
	presents     []gfx.PresentInfo
	violations   []string

	swapchainUsageAttempts []gfx.ImageUsage
	instVersionAttempts    []gfx.APIVersion
	deviceExtensions       []string

	fail map[string]*failure
	omit map[string]bool
}

// New creates a mock with one graphics+transfer family, one compute-less
// family, two memory types (host-visible then device-local) and 3 swapchain
// images.
func New() *Mock {
	return &Mock{
		nextHandle: 0x1000,
		families: []gfx.QueueFamilyProperties{
			{Flags: gfx.QueueGraphics | gfx.QueueTransfer},
			{Flags: 0},
		},
		memTypes: []gfx.MemoryType{
			{PropertyFlags: gfx.MemoryHostVisible},
			{PropertyFlags: gfx.MemoryDeviceLocal},
		},
		memTypeBits: ^uint32(0),
		imageCount:  3,
		queues:      make(map[uint64]gfx.Queue),
		queueFam:    make(map[gfx.Handle]uint32),
		swapchains:  make(map[gfx.Swapchain]*swapchainInfo),
		images:      make(map[gfx.Image]gfx.ImageCreateInfo),
		memories:    make(map[gfx.DeviceMemory]gfx.MemoryAllocateInfo),
		bound:       make(map[gfx.Image]gfx.DeviceMemory),
		pools:       make(map[gfx.CommandPool]uint32),
		buffers:     make(map[gfx.CommandBuffer]gfx.CommandPool),
		fences:      make(map[gfx.Fence]fenceState),
		inFlight:    make(map[gfx.CommandBuffer]gfx.Fence),
		allocBufs:   make(map[gfx.Handle][]byte),
		fail:        make(map[string]*failure),
		omit:        make(map[string]bool),
	}
}

// SetQueueFamilies replaces the physical device's queue family table.
func (m *Mock) SetQueueFamilies(families []gfx.QueueFamilyProperties) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.families = families
}

// SetMemoryTypes replaces the memory type table and the requirement bitmask
// reported for every image.
func (m *Mock) SetMemoryTypes(types []gfx.MemoryType, typeBits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memTypes = types
	m.memTypeBits = typeBits
}

// SetSwapchainImageCount controls how many images future swapchains get.
func (m *Mock) SetSwapchainImageCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageCount = n
}

// FailNext makes the named entry point fail with err for the next `times`
// invocations.
func (m *Mock) FailNext(name string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[name] = &failure{err: err, times: times}
}

// Omit makes the resolver return nil for the named entry points, simulating
// a driver that does not provide them.
func (m *Mock) Omit(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.omit[n] = true
	}
}

// Chain returns single-element loader chain metadata pointing at this mock,
// usable for both instance and device creation.
func (m *Mock) Chain() *gfx.LayerLink {
	return &gfx.LayerLink{Resolver: m.Resolver()}
}

// Resolver returns this mock's entry point resolver.
func (m *Mock) Resolver() gfx.ProcResolver { return resolver{m} }

type resolver struct{ m *Mock }

func (r resolver) Resolve(name string) any {
	r.m.mu.Lock()
	omitted := r.m.omit[name]
	r.m.mu.Unlock()
	if omitted {
		return nil
	}

	m := r.m
	switch name {
	case gfx.ProcCreateInstance:
		return gfx.CreateInstanceFunc(m.CreateInstance)
	case gfx.ProcDestroyInstance:
		return m.DestroyInstance
	case gfx.ProcGetPhysicalDeviceQueueFamilyProperties:
		return m.QueueFamilyProperties
	case gfx.ProcGetPhysicalDeviceMemoryProperties:
		return m.MemoryProperties
	case gfx.ProcCreateDevice:
		return gfx.CreateDeviceFunc(m.CreateDevice)
	case gfx.ProcDestroyDevice:
		return m.DestroyDevice
	case gfx.ProcGetDeviceQueue:
		return m.GetDeviceQueue
	case gfx.ProcCreateSwapchain:
		return m.CreateSwapchain
	case gfx.ProcDestroySwapchain:
		return m.DestroySwapchain
	case gfx.ProcGetSwapchainImages:
		return m.GetSwapchainImages
	case gfx.ProcQueuePresent:
		return m.QueuePresent
	case gfx.ProcCreateImage:
		return m.CreateImage
	case gfx.ProcDestroyImage:
		return m.DestroyImage
	case gfx.ProcGetImageSubresourceLayout:
		return m.GetImageSubresourceLayout
	case gfx.ProcGetImageMemoryRequirements:
		return m.GetImageMemoryRequirements
	case gfx.ProcAllocateMemory:
		return m.AllocateMemory
	case gfx.ProcFreeMemory:
		return m.FreeMemory
	case gfx.ProcBindImageMemory:
		return m.BindImageMemory
	case gfx.ProcGetMemoryFd:
		return m.GetMemoryFd
	case gfx.ProcCreateCommandPool:
		return m.CreateCommandPool
	case gfx.ProcDestroyCommandPool:
		return m.DestroyCommandPool
	case gfx.ProcResetCommandPool:
		return m.ResetCommandPool
	case gfx.ProcAllocateCommandBuffer:
		return m.AllocateCommandBuffer
	case gfx.ProcBeginCommandBuffer:
		return m.BeginCommandBuffer
	case gfx.ProcEndCommandBuffer:
		return m.EndCommandBuffer
	case gfx.ProcCmdPipelineBarrier:
		return m.CmdPipelineBarrier
	case gfx.ProcCmdCopyImage:
		return m.CmdCopyImage
	case gfx.ProcCreateFence:
		return m.CreateFence
	case gfx.ProcDestroyFence:
		return m.DestroyFence
	case gfx.ProcWaitForFences:
		return m.WaitForFences
	case gfx.ProcResetFences:
		return m.ResetFences
	case gfx.ProcQueueSubmit:
		return m.QueueSubmit
	}
	return nil
}

func (m *Mock) newHandle() gfx.Handle {
	m.nextHandle++
	return m.nextHandle
}

func (m *Mock) record(name string) { m.calls = append(m.calls, name) }

func (m *Mock) failCheck(name string) error {
	f := m.fail[name]
	if f == nil || f.times <= 0 {
		return nil
	}
	f.times--
	return f.err
}

func (m *Mock) hostAlloc(ac gfx.Allocator, h gfx.Handle, scope gfx.AllocationScope) {
	if ac == nil {
		return
	}
	m.allocBufs[h] = ac.Allocate(16, scope)
}

func (m *Mock) hostFree(ac gfx.Allocator, h gfx.Handle) {
	buf, ok := m.allocBufs[h]
	if !ok {
		return
	}
	delete(m.allocBufs, h)
	if ac != nil {
		ac.Free(buf)
	}
}

/* instance chain */

func (m *Mock) CreateInstance(info *gfx.InstanceCreateInfo, ac gfx.Allocator) (gfx.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCreateInstance)
	m.instVersionAttempts = append(m.instVersionAttempts, info.APIVersion)
	if err := m.failCheck(gfx.ProcCreateInstance); err != nil {
		return gfx.Instance{}, err
	}

	m.instKey = m.newHandle()
	m.instance = gfx.Instance{Handle: m.newHandle(), Key: m.instKey}
	m.phys = gfx.PhysicalDevice{Handle: m.newHandle(), Key: m.instKey}
	m.instAPIVersion = info.APIVersion
	m.instCreated = true
	m.hostAlloc(ac, m.instance.Handle, gfx.ScopeInstance)
	return m.instance, nil
}

func (m *Mock) DestroyInstance(inst gfx.Instance, ac gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcDestroyInstance)
	m.instCreated = false
	m.hostFree(ac, inst.Handle)
}

func (m *Mock) QueueFamilyProperties(_ gfx.PhysicalDevice) []gfx.QueueFamilyProperties {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetPhysicalDeviceQueueFamilyProperties)
	out := make([]gfx.QueueFamilyProperties, len(m.families))
	copy(out, m.families)
	return out
}

func (m *Mock) MemoryProperties(_ gfx.PhysicalDevice) gfx.MemoryProperties {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetPhysicalDeviceMemoryProperties)
	types := make([]gfx.MemoryType, len(m.memTypes))
	copy(types, m.memTypes)
	return gfx.MemoryProperties{Types: types}
}

/* device chain */

func (m *Mock) CreateDevice(_ gfx.PhysicalDevice, info *gfx.DeviceCreateInfo, ac gfx.Allocator) (gfx.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCreateDevice)
	if err := m.failCheck(gfx.ProcCreateDevice); err != nil {
		return gfx.Device{}, err
	}

	m.devKey = m.newHandle()
	m.device = gfx.Device{Handle: m.newHandle(), Key: m.devKey}
	m.devCreated = true
	m.deviceExtensions = append([]string(nil), info.EnabledExtensions...)
	m.hostAlloc(ac, m.device.Handle, gfx.ScopeDevice)
	return m.device, nil
}

func (m *Mock) DestroyDevice(dev gfx.Device, ac gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcDestroyDevice)
	m.devCreated = false
	m.hostFree(ac, dev.Handle)
}

func (m *Mock) GetDeviceQueue(_ gfx.Device, family, index uint32) gfx.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetDeviceQueue)
	key := uint64(family)<<32 | uint64(index)
	q, ok := m.queues[key]
	if !ok {
		q = gfx.Queue{Handle: m.newHandle(), Key: m.devKey}
		m.queues[key] = q
		m.queueFam[q.Handle] = family
	}
	return q
}

func (m *Mock) CreateSwapchain(_ gfx.Device, info *gfx.SwapchainCreateInfo, _ gfx.Allocator) (gfx.Swapchain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCreateSwapchain)
	m.swapchainUsageAttempts = append(m.swapchainUsageAttempts, info.ImageUsage)
	if err := m.failCheck(gfx.ProcCreateSwapchain); err != nil {
		return 0, err
	}

	sc := gfx.Swapchain(m.newHandle())
	si := &swapchainInfo{info: *info}
	for i := 0; i < m.imageCount; i++ {
		si.images = append(si.images, gfx.Image(m.newHandle()))
	}
	m.swapchains[sc] = si
	return sc, nil
}

func (m *Mock) DestroySwapchain(_ gfx.Device, sc gfx.Swapchain, _ gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcDestroySwapchain)
	delete(m.swapchains, sc)
}

func (m *Mock) GetSwapchainImages(_ gfx.Device, sc gfx.Swapchain) ([]gfx.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetSwapchainImages)
	if err := m.failCheck(gfx.ProcGetSwapchainImages); err != nil {
		return nil, err
	}
	si, ok := m.swapchains[sc]
	if !ok {
		return nil, fmt.Errorf("gfxmock: unknown swapchain %#x", sc)
	}
	return append([]gfx.Image(nil), si.images...), nil
}

func (m *Mock) QueuePresent(_ gfx.Queue, info *gfx.PresentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcQueuePresent)
	if err := m.failCheck(gfx.ProcQueuePresent); err != nil {
		return err
	}
	m.presents = append(m.presents, *info)
	return nil
}

/* images and memory */

func (m *Mock) CreateImage(_ gfx.Device, info *gfx.ImageCreateInfo, ac gfx.Allocator) (gfx.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCreateImage)
	if err := m.failCheck(gfx.ProcCreateImage); err != nil {
		return 0, err
	}
	img := gfx.Image(m.newHandle())
	m.images[img] = *info
	m.hostAlloc(ac, gfx.Handle(img), gfx.ScopeObject)
	return img, nil
}

func (m *Mock) DestroyImage(_ gfx.Device, img gfx.Image, ac gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcDestroyImage)
	delete(m.images, img)
	delete(m.bound, img)
	m.hostFree(ac, gfx.Handle(img))
}

func (m *Mock) GetImageSubresourceLayout(_ gfx.Device, img gfx.Image) gfx.SubresourceLayout {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetImageSubresourceLayout)
	info := m.images[img]
	pitch := uint64(info.Extent.Width) * 4
	return gfx.SubresourceLayout{
		Offset:   0,
		RowPitch: pitch,
		Size:     pitch * uint64(info.Extent.Height),
	}
}

func (m *Mock) GetImageMemoryRequirements(_ gfx.Device, img gfx.Image) gfx.MemoryRequirements {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetImageMemoryRequirements)
	info := m.images[img]
	return gfx.MemoryRequirements{
		Size:             uint64(info.Extent.Width) * uint64(info.Extent.Height) * 4,
		Alignment:        4096,
		MemoryTypeBits:   m.memTypeBits,
		PrefersDedicated: true,
	}
}

func (m *Mock) AllocateMemory(_ gfx.Device, info *gfx.MemoryAllocateInfo, _ gfx.Allocator) (gfx.DeviceMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcAllocateMemory)
	if err := m.failCheck(gfx.ProcAllocateMemory); err != nil {
		return 0, err
	}
	if int(info.TypeIndex) >= len(m.memTypes) {
		return 0, fmt.Errorf("gfxmock: memory type index %d out of range", info.TypeIndex)
	}
	mem := gfx.DeviceMemory(m.newHandle())
	m.memories[mem] = *info
	return mem, nil
}

func (m *Mock) FreeMemory(_ gfx.Device, mem gfx.DeviceMemory, _ gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcFreeMemory)
	delete(m.memories, mem)
}

func (m *Mock) BindImageMemory(_ gfx.Device, img gfx.Image, mem gfx.DeviceMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcBindImageMemory)
	if err := m.failCheck(gfx.ProcBindImageMemory); err != nil {
		return err
	}
	m.bound[img] = mem
	return nil
}

// GetMemoryFd returns a real pipe read descriptor. Ownership transfers to
// the caller; the write end is closed immediately so the descriptor reads
// EOF but stays valid for dup/close accounting.
func (m *Mock) GetMemoryFd(_ gfx.Device, _ gfx.DeviceMemory) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcGetMemoryFd)
	if err := m.failCheck(gfx.ProcGetMemoryFd); err != nil {
		return -1, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return -1, fmt.Errorf("gfxmock: pipe: %w", err)
	}
	unix.Close(fds[1])
	return fds[0], nil
}

/* command recording and submission */

func (m *Mock) CreateCommandPool(_ gfx.Device, family uint32, ac gfx.Allocator) (gfx.CommandPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCreateCommandPool)
	if err := m.failCheck(gfx.ProcCreateCommandPool); err != nil {
		return 0, err
	}
	pool := gfx.CommandPool(m.newHandle())
	m.pools[pool] = family
	m.hostAlloc(ac, gfx.Handle(pool), gfx.ScopeObject)
	return pool, nil
}

func (m *Mock) DestroyCommandPool(_ gfx.Device, pool gfx.CommandPool, ac gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcDestroyCommandPool)
	delete(m.pools, pool)
	for cb, p := range m.buffers {
		if p == pool {
			delete(m.buffers, cb)
			delete(m.inFlight, cb)
		}
	}
	m.hostFree(ac, gfx.Handle(pool))
}

func (m *Mock) ResetCommandPool(_ gfx.Device, pool gfx.CommandPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcResetCommandPool)
	for cb, p := range m.buffers {
		if p != pool {
			continue
		}
		if f, ok := m.inFlight[cb]; ok && m.fences[f] == fencePending {
			m.violations = append(m.violations,
				fmt.Sprintf("ResetCommandPool %#x while buffer %#x is in flight", pool, cb.Handle))
		}
	}
	return nil
}

func (m *Mock) AllocateCommandBuffer(_ gfx.Device, pool gfx.CommandPool) (gfx.CommandBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcAllocateCommandBuffer)
	if err := m.failCheck(gfx.ProcAllocateCommandBuffer); err != nil {
		return gfx.CommandBuffer{}, err
	}
	cb := gfx.CommandBuffer{Handle: m.newHandle(), Key: m.devKey}
	m.buffers[cb] = pool
	return cb, nil
}

func (m *Mock) BeginCommandBuffer(cb gfx.CommandBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcBeginCommandBuffer)
	if f, ok := m.inFlight[cb]; ok && m.fences[f] == fencePending {
		m.violations = append(m.violations,
			fmt.Sprintf("BeginCommandBuffer %#x while previous submission pending", cb.Handle))
	}
	return nil
}

func (m *Mock) EndCommandBuffer(_ gfx.CommandBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcEndCommandBuffer)
	return nil
}

func (m *Mock) CmdPipelineBarrier(_ gfx.CommandBuffer, _, _ gfx.PipelineStage, barriers []gfx.ImageMemoryBarrier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCmdPipelineBarrier)
	m.barrierCalls = append(m.barrierCalls, append([]gfx.ImageMemoryBarrier(nil), barriers...))
}

func (m *Mock) CmdCopyImage(_ gfx.CommandBuffer, src gfx.Image, srcLayout gfx.ImageLayout, dst gfx.Image, dstLayout gfx.ImageLayout, region gfx.ImageCopy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCmdCopyImage)
	m.copyCalls = append(m.copyCalls, CopyCall{
		Src: src, SrcLayout: srcLayout,
		Dst: dst, DstLayout: dstLayout,
		Extent: region.Extent,
	})
}

func (m *Mock) CreateFence(_ gfx.Device, ac gfx.Allocator) (gfx.Fence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcCreateFence)
	if err := m.failCheck(gfx.ProcCreateFence); err != nil {
		return 0, err
	}
	f := gfx.Fence(m.newHandle())
	m.fences[f] = fenceIdle
	m.hostAlloc(ac, gfx.Handle(f), gfx.ScopeObject)
	return f, nil
}

func (m *Mock) DestroyFence(_ gfx.Device, f gfx.Fence, ac gfx.Allocator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcDestroyFence)
	delete(m.fences, f)
	m.hostFree(ac, gfx.Handle(f))
}

// WaitForFences retires any pending submission guarded by the given fences,
// moving them to the signaled state, as if the GPU had just finished.
func (m *Mock) WaitForFences(_ gfx.Device, fences []gfx.Fence, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcWaitForFences)
	for _, f := range fences {
		if m.fences[f] == fencePending {
			m.fences[f] = fenceSignaled
		}
	}
	return nil
}

func (m *Mock) ResetFences(_ gfx.Device, fences []gfx.Fence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcResetFences)
	for _, f := range fences {
		m.fences[f] = fenceIdle
	}
	return nil
}

func (m *Mock) QueueSubmit(_ gfx.Queue, info gfx.SubmitInfo, fence gfx.Fence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(gfx.ProcQueueSubmit)
	if err := m.failCheck(gfx.ProcQueueSubmit); err != nil {
		return err
	}
	m.fences[fence] = fencePending
	for _, cb := range info.CommandBuffers {
		m.inFlight[cb] = fence
	}
	return nil
}

/* introspection */

// Phys returns the physical device exposed by the created instance.
func (m *Mock) Phys() gfx.PhysicalDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phys
}

// Live returns counts of live driver objects (export images, memory
// allocations, command pools/buffers, fences). Swapchain-owned presentable
// images are not included.
func (m *Mock) Live() Live {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Live{
		Images:   len(m.images),
		Memories: len(m.memories),
		Pools:    len(m.pools),
		Buffers:  len(m.buffers),
		Fences:   len(m.fences),
	}
}

// Calls returns the ordered entry point call log.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times the named entry point was invoked.
func (m *Mock) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

// Violations returns fence-discipline violations observed so far: command
// buffer reuse or pool resets while a prior submission was still pending.
func (m *Mock) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.violations...)
}

// BarrierCalls returns every recorded pipeline barrier, in order.
func (m *Mock) BarrierCalls() [][]gfx.ImageMemoryBarrier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]gfx.ImageMemoryBarrier(nil), m.barrierCalls...)
}

// CopyCalls returns every recorded image copy, in order.
func (m *Mock) CopyCalls() []CopyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CopyCall(nil), m.copyCalls...)
}

// Presents returns every present delegated to the mock driver.
func (m *Mock) Presents() []gfx.PresentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gfx.PresentInfo(nil), m.presents...)
}

// SwapchainUsageAttempts returns the image usage of every swapchain create
// attempt, including failed ones.
func (m *Mock) SwapchainUsageAttempts() []gfx.ImageUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gfx.ImageUsage(nil), m.swapchainUsageAttempts...)
}

// InstanceVersionAttempts returns the API version of every instance create
// attempt, including failed ones.
func (m *Mock) InstanceVersionAttempts() []gfx.APIVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gfx.APIVersion(nil), m.instVersionAttempts...)
}

// DeviceExtensions returns the extensions enabled at device creation.
func (m *Mock) DeviceExtensions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deviceExtensions...)
}

// QueueFamily returns the family a mock queue was created from.
func (m *Mock) QueueFamily(q gfx.Queue) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueFam[q.Handle]
}

// PendingAllocs returns how many allocator-backed host allocations are
// still outstanding.
func (m *Mock) PendingAllocs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocBufs)
}
