package app

import (
	"errors"
	"fmt"
	"image/png"
	"os"

	"github.com/gekko3d/forward"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/gpu"
	"github.com/gekko3d/forward/forwardrt/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

type App struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration

	Settings forward.Config
	Logger   core.Logger

	GPU      *gpu.Device
	Shaders  *shaders.Library
	Renderer *forward.Renderer
	Scene    *Scene

	LastTime       float64
	LastRenderTime float64
	MouseCaptured  bool
	DebugMode      bool

	FrameCount int
	FPS        float64
	FPSTime    float64
}

func NewApp(window *glfw.Window, settings forward.Config) *App {
	return &App{
		Window:    window,
		Settings:  settings,
		Logger:    core.NewDefaultLogger(settings.LogPrefix, settings.Debug),
		DebugMode: settings.Debug,
	}
}

func GetSurfaceDescriptor(w *glfw.Window) *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w)
}

func (a *App) Init() error {
	a.Instance = wgpu.CreateInstance(nil)
	a.Surface = a.Instance.CreateSurface(GetSurfaceDescriptor(a.Window))

	adapter, err := a.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: a.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("request adapter: %w", err)
	}
	a.Adapter = adapter

	width, height := a.Window.GetFramebufferSize()
	caps := a.Surface.GetCapabilities(adapter)
	if len(caps.Formats) == 0 || len(caps.AlphaModes) == 0 {
		return errors.New("surface reports no formats")
	}
	a.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	return a.initDevice()
}

// initDevice requests a device and builds everything that lives on it.
// It runs at startup and again after the device is lost.
func (a *App) initDevice() error {
	var err error
	a.Device, err = a.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	a.Queue = a.Device.GetQueue()
	a.Surface.Configure(a.Adapter, a.Device, a.Config)

	width, height := int(a.Config.Width), int(a.Config.Height)
	a.GPU, err = gpu.New(a.Device, a.Queue, a.Config.Format, width, height, a.Logger)
	if err != nil {
		return err
	}
	a.Shaders = shaders.New(a.GPU, a.Logger)

	if a.Renderer == nil {
		a.Renderer, err = forward.NewRendererBuilder().
			WithDevice(a.GPU).
			WithLogger(a.Logger).
			WithConfig(a.Settings).
			WithEffects(a.Shaders).
			UseFrameHook(a.onFrame).
			Build()
		if err != nil {
			return err
		}
	} else {
		a.Renderer.Forward.SetEffects(a.Shaders)
		a.Renderer.Restore(a.GPU)
	}

	a.Scene, err = NewScene(a.GPU, a.Shaders)
	if err != nil {
		return err
	}
	a.Scene.SetAspect(width, height)
	a.Logger.Infof("device ready: %dx%d %v", width, height, a.Config.Format)
	return nil
}

func (a *App) releaseDevice() {
	if a.Scene != nil {
		a.Scene.Release()
		a.Scene = nil
	}
	if a.Shaders != nil {
		a.Shaders.Release()
		a.Shaders = nil
	}
	if a.GPU != nil {
		a.GPU.Release()
		a.GPU = nil
	}
	if a.Queue != nil {
		a.Queue.Release()
		a.Queue = nil
	}
	if a.Device != nil {
		a.Device.Release()
		a.Device = nil
	}
}

// Recover rebuilds the device after a loss. The renderer keeps its
// configuration and rebuilds its caches on the next frame.
func (a *App) Recover() error {
	a.Logger.Warnf("app: recreating graphics device")
	a.releaseDevice()
	return a.initDevice()
}

func (a *App) Resize(w, h int) {
	if w <= 0 || h <= 0 || a.GPU == nil {
		return
	}
	a.Config.Width = uint32(w)
	a.Config.Height = uint32(h)
	a.Surface.Configure(a.Adapter, a.Device, a.Config)
	if err := a.GPU.Resize(w, h); err != nil {
		a.Logger.Errorf("app: resize: %v", err)
	}
	a.Scene.SetAspect(w, h)
}

func (a *App) Update() {
	now := glfw.GetTime()
	if a.LastTime > 0 {
		a.Scene.Update(now - a.LastTime)
	}
	a.LastTime = now
}

func (a *App) Render() {
	if a.Scene == nil {
		return
	}
	nextTexture, err := a.Surface.GetCurrentTexture()
	if err != nil {
		a.Logger.Warnf("app: GetCurrentTexture failed, reconfiguring surface: %v", err)
		a.Surface.Configure(a.Adapter, a.Device, a.Config)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		a.Logger.Errorf("app: CreateView failed: %v", err)
		return
	}
	defer view.Release()

	if err := a.GPU.BeginFrame(view); err != nil {
		a.Logger.Errorf("app: %v", err)
		return
	}
	frameErr := a.Renderer.RenderFrame(a.Scene.Composition)
	if err := a.GPU.EndFrame(); err != nil {
		// A failed submit leaves the device unusable.
		a.Logger.Errorf("app: submit: %v", err)
		a.Renderer.Context.MarkLost()
	}

	if errors.Is(frameErr, core.ErrDeviceLost) {
		if err := a.Recover(); err != nil {
			a.Logger.Errorf("app: device recovery failed: %v", err)
		}
		return
	}
	if frameErr != nil {
		a.Logger.Errorf("app: frame: %v", frameErr)
	}
	a.Surface.Present()

	now := glfw.GetTime()
	if a.LastRenderTime > 0 {
		a.FrameCount++
		a.FPSTime += now - a.LastRenderTime
		if a.FPSTime >= 1.0 {
			a.FPS = float64(a.FrameCount) / a.FPSTime
			a.FrameCount = 0
			a.FPSTime = 0
			a.Logger.Debugf("FPS: %.1f", a.FPS)
		}
	}
	a.LastRenderTime = now
}

func (a *App) onFrame(stats forward.FrameStats) {
	if !a.DebugMode || stats.Frame%300 != 0 {
		return
	}
	a.Logger.Debugf("frame %d\n%s", stats.Frame, stats.Profiler.Summary())
}

// DumpAtlas writes the light atlas slot layout as a PNG.
func (a *App) DumpAtlas(path string, size int) error {
	img := a.Renderer.Forward.Atlas.DebugImage(size)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode atlas %s: %w", path, err)
	}
	return f.Close()
}

func (a *App) Release() {
	if a.Renderer != nil {
		a.Renderer.Forward.Destroy()
	}
	a.releaseDevice()
	if a.Surface != nil {
		a.Surface.Release()
	}
	if a.Adapter != nil {
		a.Adapter.Release()
	}
	if a.Instance != nil {
		a.Instance.Release()
	}
}
