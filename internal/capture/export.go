package capture

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/gfx"
	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/wire"
)

// exportStart moves the device from No-Export to Exporting on the given
// swapchain: a linear transfer-dst image in the general layout, backed by
// the first device-local memory type the image accepts, exported as a file
// descriptor and announced to the consumer. Any failure unwinds the partial
// state and leaves the device in No-Export.
//
// Caller holds dev.mu.
func (l *Layer) exportStart(dev *DeviceRecord, swap *SwapchainRecord) error {
	p := dev.Procs

	img, err := p.CreateImage(dev.Device, &gfx.ImageCreateInfo{
		Format:        swap.Format,
		Extent:        swap.Extent,
		Usage:         gfx.UsageTransferDst,
		Tiling:        gfx.TilingLinear,
		InitialLayout: gfx.LayoutGeneral,
	}, dev.Allocator)
	if err != nil {
		return fmt.Errorf("capture: create export image: %w", err)
	}

	layout := p.GetImageSubresourceLayout(dev.Device, img)
	reqs := p.GetImageMemoryRequirements(dev.Device, img)

	props := dev.Instance.Procs.MemoryProperties(dev.Phys)
	typeIndex, found := deviceLocalType(props, reqs.MemoryTypeBits)
	if !found {
		p.DestroyImage(dev.Device, img, dev.Allocator)
		return fmt.Errorf("capture: no device-local memory type in mask %#x", reqs.MemoryTypeBits)
	}

	// Exported memory is allocated on the driver's built-in allocator, not
	// the application's strategy.
	mem, err := p.AllocateMemory(dev.Device, &gfx.MemoryAllocateInfo{
		Size:      reqs.Size,
		TypeIndex: typeIndex,
	}, nil)
	if err != nil {
		p.DestroyImage(dev.Device, img, dev.Allocator)
		return fmt.Errorf("capture: allocate export memory: %w", err)
	}

	if err := p.BindImageMemory(dev.Device, img, mem); err != nil {
		p.FreeMemory(dev.Device, mem, nil)
		p.DestroyImage(dev.Device, img, dev.Allocator)
		return fmt.Errorf("capture: bind export memory: %w", err)
	}

	fd, err := p.GetMemoryFd(dev.Device, mem)
	if err != nil {
		p.FreeMemory(dev.Device, mem, nil)
		p.DestroyImage(dev.Device, img, dev.Allocator)
		return fmt.Errorf("capture: export memory fd: %w", err)
	}

	swap.ExportImage = img
	swap.ExportMemory = mem
	swap.ExportLayout = layout
	swap.ExportFd = fd
	dev.Export = swap

	td := wire.TextureData{
		Width:    int32(swap.Extent.Width),
		Height:   int32(swap.Extent.Height),
		Format:   int32(swap.Format),
		Stride:   int32(layout.RowPitch),
		Offset:   int32(layout.Offset),
		Modifier: gfx.NoModifier,
		Planes:   1,
	}
	l.transport.Announce(td, []int{fd})
	swap.Captured = true

	log.Info("export started",
		logging.KeyDevice, uint64(dev.Device.Handle),
		logging.KeySwapchain, uint64(swap.Swapchain),
		"width", swap.Extent.Width, "height", swap.Extent.Height,
		"stride", layout.RowPitch)
	return nil
}

// exportStop leaves the Exporting state: every swapchain of the device drops
// its export image, memory and descriptor, the descriptor is closed exactly
// once, and the capturing mark is cleared. Idempotent.
//
// Caller holds dev.mu.
func (l *Layer) exportStop(dev *DeviceRecord) {
	l.waitRingsIdle(dev)

	p := dev.Procs
	dev.Swapchains.ForEach(func(_ gfx.Swapchain, s *SwapchainRecord) bool {
		if s.ExportImage != 0 {
			p.DestroyImage(dev.Device, s.ExportImage, dev.Allocator)
			s.ExportImage = 0
		}
		if s.ExportFd >= 0 {
			unix.Close(s.ExportFd)
			s.ExportFd = -1
		}
		if s.ExportMemory != 0 {
			p.FreeMemory(dev.Device, s.ExportMemory, nil)
			s.ExportMemory = 0
		}
		s.Captured = false
		return true
	})

	if dev.Export != nil {
		log.Info("export stopped", logging.KeyDevice, uint64(dev.Device.Handle))
	}
	dev.Export = nil
	l.transport.StopCapture()
}

// waitRingsIdle runs before export teardown. The per-slot fence wait at
// reuse time is the only ring synchronization in effect.
// TODO: drain pending ring fences here so teardown cannot race an in-flight
// copy on a queue that never presents again.
func (l *Layer) waitRingsIdle(dev *DeviceRecord) {}

// deviceLocalType returns the first device-local memory type allowed by the
// requirement mask.
func deviceLocalType(props gfx.MemoryProperties, typeBits uint32) (uint32, bool) {
	for i, t := range props.Types {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if t.PropertyFlags&gfx.MemoryDeviceLocal != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}
