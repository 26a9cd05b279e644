package capture

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/gfx"
	"github.com/framelink-io/framelink/internal/gfx/gfxmock"
)

func TestExportAnnouncesFrameGeometry(t *testing.T) {
	m := gfxmock.New()
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 1920, 1080)

	h.tr.connected = true
	h.present(t, sc, 0)

	if len(h.tr.announced) != 1 {
		t.Fatalf("%d announcements, want 1", len(h.tr.announced))
	}
	td := h.tr.announced[0].td
	if td.Width != 1920 || td.Height != 1080 {
		t.Fatalf("announced %dx%d, want 1920x1080", td.Width, td.Height)
	}
	if td.Stride != 1920*4 {
		t.Fatalf("stride = %d, want %d", td.Stride, 1920*4)
	}
	if td.Modifier != gfx.NoModifier {
		t.Fatalf("modifier = %#x, want the no-modifier sentinel", td.Modifier)
	}
	if td.Planes != 1 {
		t.Fatalf("planes = %d, want 1", td.Planes)
	}
	if len(h.tr.announced[0].fds) != 1 || h.tr.announced[0].fds[0] < 0 {
		t.Fatalf("announced fds = %v, want one open descriptor", h.tr.announced[0].fds)
	}
	if !h.tr.capturing {
		t.Fatal("transport not marked capturing")
	}
}

func TestCopyRecordsBarriersAroundFullExtentCopy(t *testing.T) {
	m := gfxmock.New()
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 800, 600)

	h.tr.connected = true
	h.present(t, sc, 1)

	copies := m.CopyCalls()
	if len(copies) != 1 {
		t.Fatalf("%d copies, want 1", len(copies))
	}
	c := copies[0]
	if c.Extent != (gfx.Extent2D{Width: 800, Height: 600}) {
		t.Fatalf("copy extent = %+v, want full swapchain extent", c.Extent)
	}
	if c.SrcLayout != gfx.LayoutTransferSrcOptimal || c.DstLayout != gfx.LayoutTransferDstOptimal {
		t.Fatalf("copy layouts = %v -> %v", c.SrcLayout, c.DstLayout)
	}

	images, err := m.GetSwapchainImages(h.dev, sc)
	if err != nil {
		t.Fatalf("swapchain images: %v", err)
	}
	if c.Src != images[1] {
		t.Fatal("copy source is not the presented image")
	}

	barriers := m.BarrierCalls()
	if len(barriers) != 2 {
		t.Fatalf("%d barrier calls, want 2", len(barriers))
	}
	in, out := barriers[0], barriers[1]
	if len(in) != 2 || len(out) != 2 {
		t.Fatalf("barrier counts = %d, %d; want 2 each", len(in), len(out))
	}
	if in[0].OldLayout != gfx.LayoutPresentSrc || in[0].NewLayout != gfx.LayoutTransferSrcOptimal {
		t.Fatalf("source in-barrier layouts = %v -> %v", in[0].OldLayout, in[0].NewLayout)
	}
	if in[1].OldLayout != gfx.LayoutGeneral || in[1].NewLayout != gfx.LayoutTransferDstOptimal {
		t.Fatalf("export in-barrier layouts = %v -> %v", in[1].OldLayout, in[1].NewLayout)
	}
	if in[1].SrcQueueFamily != gfx.QueueFamilyExternal || in[1].DstQueueFamily != 0 {
		t.Fatal("export in-barrier missing external-to-family ownership transfer")
	}
	if out[0].NewLayout != gfx.LayoutPresentSrc {
		t.Fatal("source out-barrier does not restore present layout")
	}
	if out[1].NewLayout != gfx.LayoutGeneral ||
		out[1].SrcQueueFamily != 0 || out[1].DstQueueFamily != gfx.QueueFamilyExternal {
		t.Fatal("export out-barrier does not restore general layout and external ownership")
	}
}

func TestSlotReuseWaitsOnFence(t *testing.T) {
	m := gfxmock.New()
	m.SetSwapchainImageCount(2)
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 320, 240)

	h.tr.connected = true
	for i := 0; i < 7; i++ {
		h.present(t, sc, uint32(i%2))
	}

	if v := m.Violations(); len(v) != 0 {
		t.Fatalf("fence discipline violated: %v", v)
	}
	// 7 captured frames through a 2-slot ring: slots 0..6 reuse pending
	// slots from the third present onward.
	if n := m.CallCount(gfx.ProcWaitForFences); n != 5 {
		t.Fatalf("%d fence waits, want 5", n)
	}
	if n := m.CallCount(gfx.ProcQueueSubmit); n != 7 {
		t.Fatalf("%d submits, want 7", n)
	}
}

func TestInitFailureDisablesDeviceWithoutLeaks(t *testing.T) {
	m := gfxmock.New()
	m.FailNext(gfx.ProcAllocateMemory, errors.New("out of device memory"), 1)
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 640, 480)

	h.tr.connected = true
	h.present(t, sc, 0)

	rec, _ := h.reg.Devices.Find(h.dev.Key)
	if rec.Valid {
		t.Fatal("device still valid after export init failure")
	}
	live := m.Live()
	if live.Images != 0 || live.Memories != 0 {
		t.Fatalf("partial export leaked: %+v", live)
	}

	// Presents keep delegating, capture stays off for good.
	h.present(t, sc, 1)
	if len(m.Presents()) != 2 {
		t.Fatalf("%d presents delegated, want 2", len(m.Presents()))
	}
	if h.tr.polls != 1 {
		t.Fatalf("%d polls, want 1: disabled device must skip the pipeline", h.tr.polls)
	}
}

func TestDisconnectStopsExportAndClosesDescriptor(t *testing.T) {
	m := gfxmock.New()
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 640, 480)

	h.tr.connected = true
	h.present(t, sc, 0)

	rec, _ := h.reg.Devices.Find(h.dev.Key)
	fd := rec.Export.ExportFd
	if fd < 0 {
		t.Fatal("no export descriptor")
	}

	h.tr.connected = false
	h.present(t, sc, 1)

	if rec.Export != nil {
		t.Fatal("export reference not cleared")
	}
	if h.tr.capturing {
		t.Fatal("transport still capturing")
	}
	live := m.Live()
	if live.Images != 0 || live.Memories != 0 {
		t.Fatalf("export leaked: %+v", live)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != unix.EBADF {
		t.Fatalf("export descriptor still open after teardown (fcntl err = %v)", err)
	}

	// Teardown is idempotent: further disconnected presents change nothing.
	h.present(t, sc, 0)
	swap, _ := rec.Swapchains.Find(sc)
	if swap.ExportFd != -1 || swap.Captured {
		t.Fatal("swapchain export state not fully cleared")
	}
}

func TestReconnectRestartsExport(t *testing.T) {
	m := gfxmock.New()
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 640, 480)

	h.tr.connected = true
	h.present(t, sc, 0)
	h.tr.connected = false
	h.present(t, sc, 1)
	h.tr.connected = true
	h.present(t, sc, 2)

	if len(h.tr.announced) != 2 {
		t.Fatalf("%d announcements, want 2", len(h.tr.announced))
	}
	if !h.tr.capturing {
		t.Fatal("capture did not restart")
	}
	live := m.Live()
	if live.Images != 1 || live.Memories != 1 {
		t.Fatalf("live export objects = %+v, want exactly one image and memory", live)
	}
}

func TestSwapchainSwitchTearsDownThenReexports(t *testing.T) {
	m := gfxmock.New()
	m.SetSwapchainImageCount(2)
	h := newHarness(t, m)
	scA := h.createSwapchain(t, 640, 480)

	h.tr.connected = true
	h.present(t, scA, 0)

	m.SetSwapchainImageCount(4)
	scB := h.createSwapchain(t, 1280, 720)
	h.present(t, scB, 0)

	// The switch frame only leaves Exporting: no copy, no new export yet.
	if len(h.tr.announced) != 1 {
		t.Fatalf("%d announcements after the switch frame, want 1", len(h.tr.announced))
	}
	if copies := m.CopyCalls(); len(copies) != 1 {
		t.Fatalf("%d copies after the switch frame, want 1: the mismatched frame is skipped", len(copies))
	}
	rec, _ := h.reg.Devices.Find(h.dev.Key)
	if rec.Export != nil {
		t.Fatal("export still present on the switch frame")
	}

	h.present(t, scB, 0)

	if len(h.tr.announced) != 2 {
		t.Fatalf("%d announcements, want 2", len(h.tr.announced))
	}
	if h.tr.announced[1].td.Width != 1280 {
		t.Fatalf("second export width = %d, want 1280", h.tr.announced[1].td.Width)
	}
	if rec.Export == nil || rec.Export.Swapchain != scB {
		t.Fatal("export did not move to the new swapchain")
	}
	if copies := m.CopyCalls(); len(copies) != 2 {
		t.Fatalf("%d copies, want 2", len(copies))
	}

	// Ring regrew to the larger image count; the old ring was released.
	live := m.Live()
	if live.Pools != 4 || live.Fences != 4 || live.Buffers != 4 {
		t.Fatalf("ring objects = %+v, want 4 pools, fences, buffers", live)
	}
	if live.Images != 1 || live.Memories != 1 {
		t.Fatalf("export objects = %+v, want exactly one image and memory", live)
	}
	if v := m.Violations(); len(v) != 0 {
		t.Fatalf("fence discipline violated during ring growth: %v", v)
	}
}

func TestMultiSwapchainPresentCapturesFirstOnly(t *testing.T) {
	m := gfxmock.New()
	h := newHarness(t, m)
	scA := h.createSwapchain(t, 640, 480)
	scB := h.createSwapchain(t, 320, 240)

	h.tr.connected = true
	if err := h.layer.QueuePresent(h.queue, &gfx.PresentInfo{
		Swapchains:   []gfx.Swapchain{scA, scB},
		ImageIndices: []uint32{0, 0},
	}); err != nil {
		t.Fatalf("present: %v", err)
	}

	if len(h.tr.announced) != 1 {
		t.Fatalf("%d announcements, want 1", len(h.tr.announced))
	}
	if h.tr.announced[0].td.Width != 640 {
		t.Fatalf("announced width = %d, want the first swapchain's 640", h.tr.announced[0].td.Width)
	}
	copies := m.CopyCalls()
	if len(copies) != 1 {
		t.Fatalf("%d copies, want 1", len(copies))
	}
	imagesA, err := m.GetSwapchainImages(h.dev, scA)
	if err != nil {
		t.Fatalf("swapchain images: %v", err)
	}
	if copies[0].Src != imagesA[0] {
		t.Fatal("copy source is not from the first swapchain")
	}
}

func TestZeroExtentSwapchainWaitsForUsableGeometry(t *testing.T) {
	m := gfxmock.New()
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 0, 0)

	h.tr.connected = true
	h.present(t, sc, 0)
	h.present(t, sc, 1)

	if len(h.tr.announced) != 0 {
		t.Fatalf("%d announcements for a 0x0 swapchain, want 0", len(h.tr.announced))
	}
	rec, _ := h.reg.Devices.Find(h.dev.Key)
	if !rec.Valid {
		t.Fatal("device invalidated by an unexportable extent")
	}
	if rec.Export != nil {
		t.Fatal("export entered for a 0x0 swapchain")
	}
	if live := m.Live(); live.Images != 0 || live.Memories != 0 {
		t.Fatalf("objects created for a 0x0 swapchain: %+v", live)
	}

	// A swapchain with a real extent still exports afterwards.
	scB := h.createSwapchain(t, 640, 480)
	h.present(t, scB, 0)
	if len(h.tr.announced) != 1 {
		t.Fatalf("%d announcements, want 1", len(h.tr.announced))
	}
	if h.tr.announced[0].td.Width != 640 || h.tr.announced[0].td.Height != 480 {
		t.Fatalf("announced %dx%d, want 640x480",
			h.tr.announced[0].td.Width, h.tr.announced[0].td.Height)
	}
}

func TestNoDeviceLocalMemoryTypeFailsInit(t *testing.T) {
	m := gfxmock.New()
	m.SetMemoryTypes([]gfx.MemoryType{{PropertyFlags: gfx.MemoryHostVisible}}, ^uint32(0))
	h := newHarness(t, m)
	sc := h.createSwapchain(t, 640, 480)

	h.tr.connected = true
	h.present(t, sc, 0)

	rec, _ := h.reg.Devices.Find(h.dev.Key)
	if rec.Valid {
		t.Fatal("device still valid with no usable memory type")
	}
	if live := m.Live(); live.Images != 0 {
		t.Fatalf("export image leaked: %+v", live)
	}
}
