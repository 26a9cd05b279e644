package capture

import (
	"slices"

	"github.com/framelink-io/framelink/internal/gfx"
	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/registry"
)

// Layer is the interception layer. One Layer serves every instance and
// device the loader routes through it; all state lives in the injected
// registries.
type Layer struct {
	reg       *Registries
	transport Transport
}

// NewLayer creates a layer over the given registries and transport.
func NewLayer(reg *Registries, transport Transport) *Layer {
	return &Layer{reg: reg, transport: transport}
}

// CreateInstance intercepts instance creation. The chain link is consumed
// before delegating so the next layer sees its own link first. The requested
// API version is raised to the floor the export path needs; when the raised
// request fails, creation is retried with the application's original version
// and the instance is recorded as invalid.
func (l *Layer) CreateInstance(info *gfx.InstanceCreateInfo, ac gfx.Allocator) (gfx.Instance, error) {
	if info == nil || info.Chain == nil {
		return gfx.Instance{}, gfx.ErrNoChain
	}
	link := info.Chain
	create, _ := link.Resolver.Resolve(gfx.ProcCreateInstance).(gfx.CreateInstanceFunc)
	if create == nil {
		return gfx.Instance{}, gfx.ErrNoDelegate
	}
	info.Chain = link.Next

	requested := info.APIVersion
	raised := requested
	if raised < gfx.APIVersion1_2 {
		raised = gfx.APIVersion1_2
	}
	info.APIVersion = raised

	inst, err := create(info, ac)
	if err != nil && raised != requested {
		info.APIVersion = requested
		inst, err = create(info, ac)
	}
	if err != nil {
		return gfx.Instance{}, err
	}

	procs, missing := gfx.ResolveInstanceProcs(link.Resolver)
	rec := &InstanceRecord{
		Instance:   inst,
		Procs:      procs,
		APIVersion: info.APIVersion,
		Valid:      len(missing) == 0 && info.APIVersion >= gfx.APIVersion1_2,
	}
	if len(missing) > 0 {
		log.Warn("instance entry points unresolved, capture disabled for this instance",
			"missing", missing)
	}
	l.reg.Instances.Insert(inst.Key, rec)
	return inst, nil
}

// DestroyInstance drops the record and delegates.
func (l *Layer) DestroyInstance(inst gfx.Instance, ac gfx.Allocator) {
	rec, ok := l.reg.Instances.Remove(inst.Key)
	if !ok || rec.Procs.DestroyInstance == nil {
		return
	}
	rec.Procs.DestroyInstance(inst, ac)
}

// CreateDevice intercepts device creation: the external-memory-fd extension
// is injected unless the application already enables it, device entry points
// are resolved, and every requested queue is enumerated and tagged with its
// family's transfer capability. An invalid instance or any unresolved entry
// point leaves the device invalid, so every present on it stays pure
// pass-through.
func (l *Layer) CreateDevice(phys gfx.PhysicalDevice, info *gfx.DeviceCreateInfo, ac gfx.Allocator) (gfx.Device, error) {
	if info == nil || info.Chain == nil {
		return gfx.Device{}, gfx.ErrNoChain
	}
	link := info.Chain
	create, _ := link.Resolver.Resolve(gfx.ProcCreateDevice).(gfx.CreateDeviceFunc)
	if create == nil {
		return gfx.Device{}, gfx.ErrNoDelegate
	}
	info.Chain = link.Next

	if !slices.Contains(info.EnabledExtensions, gfx.ExtExternalMemoryFd) {
		info.EnabledExtensions = append(info.EnabledExtensions, gfx.ExtExternalMemoryFd)
	}

	dev, err := create(phys, info, ac)
	if err != nil {
		return gfx.Device{}, err
	}

	instRec, _ := l.reg.Instances.Find(phys.Key)
	procs, missing := gfx.ResolveDeviceProcs(link.Resolver)
	valid := instRec != nil && instRec.Valid && len(missing) == 0
	if len(missing) > 0 {
		log.Warn("device entry points unresolved, capture disabled for this device",
			logging.KeyDevice, uint64(dev.Handle), "missing", missing)
	}

	rec := &DeviceRecord{
		Device:     dev,
		Phys:       phys,
		Instance:   instRec,
		Procs:      procs,
		Allocator:  ac,
		Queues:     registry.New[gfx.Handle, *QueueRecord](),
		Swapchains: registry.New[gfx.Swapchain, *SwapchainRecord](),
		Valid:      valid,
	}

	if valid {
		families := instRec.Procs.QueueFamilyProperties(phys)
		for _, qi := range info.QueueCreateInfos {
			transfer := false
			if int(qi.FamilyIndex) < len(families) {
				flags := families[qi.FamilyIndex].Flags
				transfer = flags&(gfx.QueueTransfer|gfx.QueueGraphics|gfx.QueueCompute) != 0
			}
			for i := uint32(0); i < qi.Count; i++ {
				q := procs.GetDeviceQueue(dev, qi.FamilyIndex, i)
				rec.Queues.Insert(q.Handle, &QueueRecord{
					Queue:            q,
					Family:           qi.FamilyIndex,
					SupportsTransfer: transfer,
				})
			}
		}
	}

	l.reg.Devices.Insert(dev.Key, rec)
	return dev, nil
}

// DestroyDevice tears down the export and every frame ring before the device
// goes away, then delegates.
func (l *Layer) DestroyDevice(dev gfx.Device, ac gfx.Allocator) {
	rec, ok := l.reg.Devices.Remove(dev.Key)
	if !ok {
		return
	}

	rec.mu.Lock()
	l.exportStop(rec)
	rec.Queues.ForEach(func(_ gfx.Handle, q *QueueRecord) bool {
		l.destroyRing(rec, q)
		return true
	})
	rec.mu.Unlock()

	if rec.Procs.DestroyDevice != nil {
		rec.Procs.DestroyDevice(dev, ac)
	}
}

// CreateSwapchain intercepts swapchain creation on valid devices, adding the
// transfer-source usage bit the copy pipeline needs. When the modified
// request fails, creation is retried with the application's original usage
// and the swapchain goes unrecorded, so presents on it pass through.
func (l *Layer) CreateSwapchain(dev gfx.Device, info *gfx.SwapchainCreateInfo, ac gfx.Allocator) (gfx.Swapchain, error) {
	rec, ok := l.reg.Devices.Find(dev.Key)
	if !ok || rec.Procs.CreateSwapchain == nil {
		return 0, gfx.ErrNoDelegate
	}
	if !rec.Valid {
		return rec.Procs.CreateSwapchain(dev, info, ac)
	}

	orig := info.ImageUsage
	info.ImageUsage = orig | gfx.UsageTransferSrc

	sc, err := rec.Procs.CreateSwapchain(dev, info, ac)
	captureUsable := err == nil
	if err != nil && info.ImageUsage != orig {
		info.ImageUsage = orig
		sc, err = rec.Procs.CreateSwapchain(dev, info, ac)
		captureUsable = false
	}
	if err != nil {
		return 0, err
	}
	if !captureUsable {
		log.Warn("swapchain refused transfer-source usage, capture disabled for this swapchain",
			logging.KeyDevice, uint64(dev.Handle), logging.KeySwapchain, uint64(sc))
		return sc, nil
	}

	images, ierr := rec.Procs.GetSwapchainImages(dev, sc)
	if ierr != nil {
		log.Warn("swapchain image enumeration failed, capture disabled for this swapchain",
			logging.KeyDevice, uint64(dev.Handle), logging.KeySwapchain, uint64(sc),
			logging.KeyError, ierr)
		return sc, nil
	}

	rec.Swapchains.Insert(sc, &SwapchainRecord{
		Swapchain: sc,
		Format:    info.Format,
		Extent:    info.Extent,
		Images:    images,
		ExportFd:  -1,
	})
	return sc, nil
}

// DestroySwapchain tears down the export first when this swapchain carries
// it, drops the record, and delegates.
func (l *Layer) DestroySwapchain(dev gfx.Device, sc gfx.Swapchain, ac gfx.Allocator) {
	rec, ok := l.reg.Devices.Find(dev.Key)
	if !ok {
		return
	}

	rec.mu.Lock()
	if rec.Export != nil && rec.Export.Swapchain == sc {
		l.exportStop(rec)
	}
	rec.Swapchains.Remove(sc)
	rec.mu.Unlock()

	if rec.Procs.DestroySwapchain != nil {
		rec.Procs.DestroySwapchain(dev, sc, ac)
	}
}

// QueuePresent runs the capture pipeline when the device is valid and the
// presenting queue's family supports transfer work, then delegates the
// present unconditionally. Capture failures never surface to the caller.
func (l *Layer) QueuePresent(queue gfx.Queue, info *gfx.PresentInfo) error {
	rec, ok := l.reg.Devices.Find(queue.Key)
	if !ok || rec.Procs.QueuePresent == nil {
		return gfx.ErrNoDelegate
	}

	if qrec, found := rec.Queues.Find(queue.Handle); found && qrec.SupportsTransfer {
		rec.mu.Lock()
		if rec.Valid {
			l.capture(rec, qrec, info)
		}
		rec.mu.Unlock()
	}

	return rec.Procs.QueuePresent(queue, info)
}
