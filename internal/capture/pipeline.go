package capture

import (
	"fmt"

	"github.com/framelink-io/framelink/internal/gfx"
	"github.com/framelink-io/framelink/internal/logging"
)

// capture is the per-present pipeline. It polls the transport, applies
// stop/init transitions, and copies the presented image into the export.
// Only the first swapchain of a multi-swapchain present is considered.
//
// Caller holds dev.mu and has verified dev.Valid and transfer support.
func (l *Layer) capture(dev *DeviceRecord, q *QueueRecord, info *gfx.PresentInfo) {
	if info == nil || len(info.Swapchains) == 0 || len(info.ImageIndices) == 0 {
		return
	}
	sc := info.Swapchains[0]
	imageIndex := info.ImageIndices[0]

	l.transport.Poll()

	if l.transport.ShouldStop() {
		l.exportStop(dev)
	}

	swap, known := dev.Swapchains.Find(sc)

	// Exporting needs a real extent. A minimized window presents 0x0; the
	// init transition waits for a usable extent instead of exporting it.
	if l.transport.ShouldInit() && known &&
		swap.Extent.Width > 0 && swap.Extent.Height > 0 {
		if err := l.exportStart(dev, swap); err != nil {
			log.Error("export init failed, capture disabled for this device",
				logging.KeyDevice, uint64(dev.Device.Handle),
				logging.KeySwapchain, uint64(sc),
				logging.KeyError, err)
			l.exportStop(dev)
			dev.Valid = false
			return
		}
	}

	if dev.Export == nil {
		return
	}

	// Presenting a different swapchain than the exported one tears the
	// export down and skips the copy this frame; the next present
	// re-exports the new swapchain.
	if !known || dev.Export != swap {
		l.exportStop(dev)
		return
	}

	if err := l.copyFrame(dev, q, swap, imageIndex); err != nil {
		log.Error("frame copy failed",
			logging.KeyDevice, uint64(dev.Device.Handle),
			logging.KeySwapchain, uint64(sc),
			logging.KeyError, err)
	}
}

// copyFrame records and submits the copy of the presented image into the
// export image, guarded by the slot fence. The ring is sized to the
// swapchain image count and recreated when the count grows.
//
// Caller holds dev.mu.
func (l *Layer) copyFrame(dev *DeviceRecord, q *QueueRecord, swap *SwapchainRecord, imageIndex uint32) error {
	if int(imageIndex) >= len(swap.Images) {
		return fmt.Errorf("capture: image index %d out of range (%d images)", imageIndex, len(swap.Images))
	}
	src := swap.Images[imageIndex]

	if err := l.ensureRing(dev, q, len(swap.Images)); err != nil {
		return err
	}

	p := dev.Procs
	slot := &q.slots[q.next]
	q.next = (q.next + 1) % len(q.slots)

	if slot.pending {
		if err := p.WaitForFences(dev.Device, []gfx.Fence{slot.fence}, ^uint64(0)); err != nil {
			return fmt.Errorf("capture: wait slot fence: %w", err)
		}
		if err := p.ResetFences(dev.Device, []gfx.Fence{slot.fence}); err != nil {
			return fmt.Errorf("capture: reset slot fence: %w", err)
		}
		slot.pending = false
	}

	if err := p.ResetCommandPool(dev.Device, slot.pool); err != nil {
		return fmt.Errorf("capture: reset slot pool: %w", err)
	}
	if err := p.BeginCommandBuffer(slot.cb); err != nil {
		return fmt.Errorf("capture: begin slot buffer: %w", err)
	}

	// Into transfer layouts; the export image additionally moves from
	// external ownership to the presenting family.
	p.CmdPipelineBarrier(slot.cb, gfx.StageTopOfPipe, gfx.StageTransfer, []gfx.ImageMemoryBarrier{
		{
			SrcAccess:      gfx.AccessMemoryRead,
			DstAccess:      gfx.AccessTransferRead,
			OldLayout:      gfx.LayoutPresentSrc,
			NewLayout:      gfx.LayoutTransferSrcOptimal,
			SrcQueueFamily: gfx.QueueFamilyIgnored,
			DstQueueFamily: gfx.QueueFamilyIgnored,
			Image:          src,
		},
		{
			SrcAccess:      0,
			DstAccess:      gfx.AccessTransferWrite,
			OldLayout:      gfx.LayoutGeneral,
			NewLayout:      gfx.LayoutTransferDstOptimal,
			SrcQueueFamily: gfx.QueueFamilyExternal,
			DstQueueFamily: q.Family,
			Image:          swap.ExportImage,
		},
	})

	p.CmdCopyImage(slot.cb,
		src, gfx.LayoutTransferSrcOptimal,
		swap.ExportImage, gfx.LayoutTransferDstOptimal,
		gfx.ImageCopy{Extent: swap.Extent})

	// Back out: present source for the application, general layout and
	// external ownership for the consumer mapping the exported memory.
	p.CmdPipelineBarrier(slot.cb, gfx.StageTransfer, gfx.StageBottomOfPipe, []gfx.ImageMemoryBarrier{
		{
			SrcAccess:      gfx.AccessTransferRead,
			DstAccess:      gfx.AccessMemoryRead,
			OldLayout:      gfx.LayoutTransferSrcOptimal,
			NewLayout:      gfx.LayoutPresentSrc,
			SrcQueueFamily: gfx.QueueFamilyIgnored,
			DstQueueFamily: gfx.QueueFamilyIgnored,
			Image:          src,
		},
		{
			SrcAccess:      gfx.AccessTransferWrite,
			DstAccess:      0,
			OldLayout:      gfx.LayoutTransferDstOptimal,
			NewLayout:      gfx.LayoutGeneral,
			SrcQueueFamily: q.Family,
			DstQueueFamily: gfx.QueueFamilyExternal,
			Image:          swap.ExportImage,
		},
	})

	if err := p.EndCommandBuffer(slot.cb); err != nil {
		return fmt.Errorf("capture: end slot buffer: %w", err)
	}

	if err := p.QueueSubmit(q.Queue, gfx.SubmitInfo{CommandBuffers: []gfx.CommandBuffer{slot.cb}}, slot.fence); err != nil {
		return fmt.Errorf("capture: submit copy: %w", err)
	}
	slot.pending = true
	return nil
}

// ensureRing makes the queue's frame ring hold at least n slots. Growth
// destroys the old ring first; shrinking never happens, a larger ring keeps
// serving a smaller swapchain.
//
// Caller holds dev.mu.
func (l *Layer) ensureRing(dev *DeviceRecord, q *QueueRecord, n int) error {
	if len(q.slots) >= n {
		return nil
	}
	l.destroyRing(dev, q)

	p := dev.Procs
	slots := make([]frameSlot, 0, n)
	for i := 0; i < n; i++ {
		pool, err := p.CreateCommandPool(dev.Device, q.Family, dev.Allocator)
		if err != nil {
			l.destroySlots(dev, slots)
			return fmt.Errorf("capture: create slot pool: %w", err)
		}
		cb, err := p.AllocateCommandBuffer(dev.Device, pool)
		if err != nil {
			p.DestroyCommandPool(dev.Device, pool, dev.Allocator)
			l.destroySlots(dev, slots)
			return fmt.Errorf("capture: allocate slot buffer: %w", err)
		}
		fence, err := p.CreateFence(dev.Device, dev.Allocator)
		if err != nil {
			p.DestroyCommandPool(dev.Device, pool, dev.Allocator)
			l.destroySlots(dev, slots)
			return fmt.Errorf("capture: create slot fence: %w", err)
		}
		slots = append(slots, frameSlot{pool: pool, cb: cb, fence: fence})
	}

	q.slots = slots
	q.next = 0
	return nil
}

// destroyRing waits out pending slots and releases the ring.
//
// Caller holds dev.mu.
func (l *Layer) destroyRing(dev *DeviceRecord, q *QueueRecord) {
	if len(q.slots) == 0 {
		return
	}
	p := dev.Procs
	for i := range q.slots {
		if q.slots[i].pending {
			p.WaitForFences(dev.Device, []gfx.Fence{q.slots[i].fence}, ^uint64(0))
			q.slots[i].pending = false
		}
	}
	l.destroySlots(dev, q.slots)
	q.slots = nil
	q.next = 0
}

func (l *Layer) destroySlots(dev *DeviceRecord, slots []frameSlot) {
	p := dev.Procs
	for _, s := range slots {
		p.DestroyCommandPool(dev.Device, s.pool, dev.Allocator)
		p.DestroyFence(dev.Device, s.fence, dev.Allocator)
	}
}
