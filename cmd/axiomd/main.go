// Command axiomd is the thin binary wrapping internal/compositor, the way
// ctxmenu/cmd/ctxmenu/main.go wraps the ctxmenu library: parse flags,
// build the one concrete thing the core's own doc comments name as
// "the surrounding binary's job" (an SDL window/renderer, a loaded font,
// CLI/config decisions, signal-driven shutdown), then hand everything to
// the library and get out of the way.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"gopkg.in/yaml.v3"

	"github.com/axiom-compositor/axiomd/internal/compositor"
	"github.com/axiom-compositor/axiomd/internal/decoration"
	"github.com/axiom-compositor/axiomd/internal/input"
	"github.com/axiom-compositor/axiomd/internal/layout"
	"github.com/axiom-compositor/axiomd/internal/render"
)

// fileConfig is the on-disk YAML shape for axiomd.yaml (§6 "configuration
// consumed in memory" — this file is read once at startup and never
// watched). Every field is optional; zero values fall back to the core's
// own defaults.
type fileConfig struct {
	Socket   string            `yaml:"socket"`
	Width    int32             `yaml:"width"`
	Height   int32             `yaml:"height"`
	FontPath string            `yaml:"font_path"`
	FontSize float64           `yaml:"font_size"`
	Keymap   string            `yaml:"keymap_path"`
	Bindings map[string]string `yaml:"bindings"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

// defaultBindings mirrors original_source's default keybinding set (scroll
// workspace, move window, fullscreen, quit) expressed against
// input.BindingKey's modifiers+name canonicalization.
func defaultBindings() map[string]input.Action {
	return map[string]input.Action{
		input.BindingKey(input.ModSuper, "left"):                 {Kind: input.ActionScrollLeft},
		input.BindingKey(input.ModSuper, "right"):                {Kind: input.ActionScrollRight},
		input.BindingKey(input.ModSuper|input.ModShift, "left"):  {Kind: input.ActionMoveWindowLeft},
		input.BindingKey(input.ModSuper|input.ModShift, "right"): {Kind: input.ActionMoveWindowRight},
		input.BindingKey(input.ModSuper, "f"):                    {Kind: input.ActionToggleFullscreen},
		input.BindingKey(input.ModSuper, "q"):                    {Kind: input.ActionCloseWindow},
		input.BindingKey(input.ModSuper|input.ModShift, "q"):     {Kind: input.ActionQuit},
	}
}

// loadFont reads an OpenType/TrueType font file and builds a rasterizing
// face, the way ctxmenu.go's parseFontString does, minus the fontconfig
// FontMatch step (not present anywhere in the retrieved pack; see
// DESIGN.md). A caller-supplied path is required — there is no embedded
// fallback font in this module.
func loadFont(path string, size float64) (font.Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading font %s: %w", path, err)
	}
	fnt, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing font %s: %w", path, err)
	}
	return opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     96,
		Hinting: font.HintingFull,
	})
}

type options struct {
	configPath string
	socket     string
	width      int32
	height     int32
	fontPath   string
	fontSize   float64
	headless   bool
}

func main() {
	opts := &options{width: 1920, height: 1080, fontSize: 14}

	root := &cobra.Command{
		Use:   "axiomd",
		Short: "axiomd is a scrollable-tiling Wayland compositor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to axiomd.yaml")
	root.PersistentFlags().StringVar(&opts.socket, "socket", "", "Wayland socket path (default $XDG_RUNTIME_DIR/wayland-1)")
	root.PersistentFlags().Int32Var(&opts.width, "width", opts.width, "viewport width")
	root.PersistentFlags().Int32Var(&opts.height, "height", opts.height, "viewport height")
	root.PersistentFlags().StringVar(&opts.fontPath, "font", "", "path to an OpenType/TrueType font for window titlebars")
	root.PersistentFlags().Float64Var(&opts.fontSize, "font-size", opts.fontSize, "titlebar font size in points")
	root.PersistentFlags().BoolVar(&opts.headless, "headless", false, "run without an SDL render target (protocol + layout only)")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "axiomd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	fc, err := loadFileConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFileConfig(opts, fc)

	socketPath := opts.socket
	if socketPath == "" {
		dir := os.Getenv("XDG_RUNTIME_DIR")
		if dir == "" {
			dir = os.TempDir()
		}
		socketPath = dir + "/wayland-1"
	}

	bindings := defaultBindings()
	for key, actionName := range fc.Bindings {
		bindings[key] = input.Action{Kind: input.ActionCustom, Custom: actionName}
	}

	cfg := compositor.Config{
		SocketPath:    socketPath,
		Layout:        layout.DefaultConfig(),
		Decoration:    decoration.PolicyFromEnv(),
		Keybindings:   bindings,
		Log:           log,
		ViewportW:     opts.width,
		ViewportH:     opts.height,
		FrameBudgetMs: 16.0,
	}
	if fc.Keymap != "" {
		data, err := os.ReadFile(fc.Keymap)
		if err != nil {
			return fmt.Errorf("reading keymap %s: %w", fc.Keymap, err)
		}
		cfg.Keymap = string(data)
	}

	var win *sdl.Window
	if !opts.headless {
		if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
			return fmt.Errorf("sdl init: %w", err)
		}
		defer sdl.Quit()

		win, err = sdl.CreateWindow("axiomd", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
			opts.width, opts.height, sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
		if err != nil {
			return fmt.Errorf("creating window: %w", err)
		}
		defer win.Destroy()

		sdlRenderer, err := sdl.CreateRenderer(win, -1, sdl.RENDERER_ACCELERATED)
		if err != nil {
			return fmt.Errorf("creating renderer: %w", err)
		}
		defer sdlRenderer.Destroy()

		cfg.Renderer = render.New(sdlRenderer, cfg.FrameBudgetMs)

		if opts.fontPath != "" {
			face, err := loadFont(opts.fontPath, opts.fontSize)
			if err != nil {
				log.Warn().Err(err).Msg("titlebar font unavailable, windows render without titlebars")
			} else {
				cfg.Titlebar = decoration.NewTitlebarRenderer(face)
			}
		}
	}

	comp, err := compositor.New(cfg)
	if err != nil {
		return err
	}

	os.Setenv("WAYLAND_DISPLAY", socketPath)
	log.Info().Str("socket", socketPath).Bool("headless", opts.headless).Msg("starting axiomd")

	return comp.ListenAndServe(ctx)
}

func applyFileConfig(opts *options, fc fileConfig) {
	if fc.Socket != "" {
		opts.socket = fc.Socket
	}
	if fc.Width > 0 {
		opts.width = fc.Width
	}
	if fc.Height > 0 {
		opts.height = fc.Height
	}
	if fc.FontPath != "" {
		opts.fontPath = fc.FontPath
	}
	if fc.FontSize > 0 {
		opts.fontSize = fc.FontSize
	}
}
