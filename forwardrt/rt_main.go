package main

import (
	"flag"
	"log"
	"runtime"

	"github.com/gekko3d/forward"
	"github.com/gekko3d/forward/forwardrt/rt/app"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

// boolFlag reports a flag's value only when it was given on the command line.
func boolFlag(name string, v *bool) *bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	if !set {
		return nil
	}
	return v
}

func main() {
	configPath := flag.String("config", "", "JSON renderer config")
	debug := flag.Bool("debug", false, "Enable debug logging and frame stats")
	clustered := flag.Bool("clustered", false, "Use clustered lighting")
	shadows := flag.Bool("shadows", true, "Render shadows")
	dumpAtlas := flag.String("dump-atlas", "", "Write the light atlas layout to this PNG on exit")
	flag.Parse()

	cfg := forward.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = forward.LoadConfig(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	cfg = cfg.Resolve(forward.Flags{
		Debug:     boolFlag("debug", debug),
		Clustered: boolFlag("clustered", clustered),
		Shadows:   boolFlag("shadows", shadows),
	})

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "Forward RT Go", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	application := app.NewApp(window, cfg)
	if err := application.Init(); err != nil {
		panic(err)
	}
	defer application.Release()

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
		if key == glfw.KeyF1 && action == glfw.Press {
			application.DebugMode = !application.DebugMode
			application.Logger.SetDebug(application.DebugMode)
		}
	})

	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		application.Render()
	}

	if *dumpAtlas != "" {
		if err := application.DumpAtlas(*dumpAtlas, 512); err != nil {
			log.Printf("dump atlas: %v", err)
		}
	}
}
