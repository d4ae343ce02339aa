package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"talkinghead/internal/audio"
	"talkinghead/internal/cli/scheme/colours"
	"talkinghead/internal/config"
	"talkinghead/internal/host"
	"talkinghead/internal/journal"
	"talkinghead/internal/render"
	"talkinghead/internal/scene"
	"talkinghead/internal/session"
	"talkinghead/internal/speech"
)

// Commands backs the cobra commands. LoadConfig is called once per command run.
type Commands struct {
	Ctx        context.Context
	LoadConfig func() (*config.Config, error)
}

func (c *Commands) config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Lookup("provider") != nil {
		if p, _ := cmd.Flags().GetString("provider"); p != "" {
			cfg.Speech.Provider = p
		}
	}
	if cmd.Flags().Lookup("voice") != nil {
		if v, _ := cmd.Flags().GetString("voice"); v != "" {
			cfg.Speech.Voice = v
		}
	}
	if cmd.Flags().Lookup("output") != nil {
		if o, _ := cmd.Flags().GetString("output"); o != "" {
			cfg.Audio.Output = o
		}
	}
	return cfg, nil
}

func (c *Commands) ShowWelcome(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	colours.Title.Fprintln(out, "🗣️  Welcome to talkinghead!")
	fmt.Fprintln(out)
	colours.Info.Fprintln(out, "📚 Available commands:")
	fmt.Fprintln(out, "  • talkinghead speak <text>  - Say something (-i for interactive)")
	fmt.Fprintln(out, "  • talkinghead serve         - Run the websocket host")
	fmt.Fprintln(out, "  • talkinghead voices        - List voices of the speech provider")
	fmt.Fprintln(out, "  • talkinghead scene         - Load and describe the avatar")
	fmt.Fprintln(out, "  • talkinghead cache         - Inspect or clear caches")
	fmt.Fprintln(out, "  • talkinghead history       - Show recent sessions")
}

func (c *Commands) Speak(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	// the renderer and the reporter write from their own goroutines
	out := &lockedWriter{w: cmd.OutOrStdout()}
	interactive, _ := cmd.Flags().GetBool("interactive")
	noWait, _ := cmd.Flags().GetBool("no-wait")

	th, err := New(c.Ctx, cfg, audio.NewRegistry(), host.NewConsoleReporter(out), render.NewConsoleRenderer(out))
	if err != nil {
		return err
	}
	defer th.Close()

	if err := th.Start(); err != nil {
		return err
	}

	if interactive {
		return c.speakInteractive(th, cmd.InOrStdin(), out)
	}

	if err := th.Controller.Speak(c.Ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	if noWait {
		return nil
	}
	th.WaitIdle(c.Ctx)
	colours.Success.Fprintln(out, "✅ Finished speaking")
	return nil
}

// speakInteractive reads one line per request. Repeating the line that is playing stops it.
func (c *Commands) speakInteractive(th *TalkingHead, in io.Reader, out io.Writer) error {
	colours.Prompt.Fprintln(out, "💬 Type text and press Enter. 's' stops, 'q' quits.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-c.Ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				th.WaitIdle(c.Ctx)
				return nil
			}
			switch text := strings.TrimSpace(line); text {
			case "q", "quit":
				return nil
			case "s", "stop":
				th.Controller.Stop()
				colours.Warning.Fprintln(out, "⏹️  Stopped")
			case "":
			default:
				// lines take effect in the order typed; the rest runs in the background
				// so a later line can supersede it
				run, err := th.Controller.Begin(c.Ctx, text)
				if err != nil {
					logrus.WithError(err).Debug("Speak failed")
					continue
				}
				if run == nil {
					continue
				}
				go func() {
					if err := run(); err != nil && !errors.Is(err, session.ErrSuperseded) {
						logrus.WithError(err).Debug("Speak failed")
					}
				}()
			}
		}
	}
}

func (c *Commands) Serve(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	registry := audio.NewRegistry()
	server := host.NewServer(registry)
	th, err := New(c.Ctx, cfg, registry, server, render.NewStatsRenderer(cfg.Render.StatsInterval))
	if err != nil {
		return err
	}
	defer th.Close()
	server.Bind(th.Controller)

	if err := th.Start(); err != nil {
		return err
	}

	config.Watch(func(updated *config.Config) {
		config.ConfigureLogging(updated.Log)
	})

	colours.Success.Fprintf(cmd.OutOrStdout(), "🌐 Serving on %s (ws: /ws, audio: /audio/<id>)\n", cfg.Server.Addr)
	return server.ListenAndServe(c.Ctx, cfg.Server.Addr)
}

func (c *Commands) ListVoices(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	provider, err := speech.NewProvider(c.Ctx, cfg.Speech)
	if err != nil {
		return err
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}

	lister, ok := provider.(speech.VoiceLister)
	if !ok {
		return fmt.Errorf("%s cannot list voices", provider.Name())
	}
	voices, err := lister.ListVoices(c.Ctx)
	if err != nil {
		return err
	}

	colours.Title.Fprintf(out, "🎤 Voices for %s\n", provider.Name())
	for _, v := range voices {
		fmt.Fprintf(out, "  • %s\n", v)
	}
	colours.Info.Fprintf(out, "Available providers: %v\n", speech.AvailableProviders(cfg.Speech))
	return nil
}

func (c *Commands) ShowScene(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	loader := scene.NewLoader(scene.NewGLTFSource(scene.NewAssetCache(cfg.Scene.CacheDir, cfg.Scene.CacheMaxAge)), cfg.Scene.Mesh, cfg.Scene.Clips)
	loader.SetTimeout(cfg.Scene.LoadTimeout)
	sc, err := loader.EnsureLoaded(c.Ctx, scene.Surface{Width: cfg.Scene.Width, Height: cfg.Scene.Height})
	if err != nil {
		return err
	}

	colours.Title.Fprintf(out, "🧍 %s\n", sc.Mesh.Name)
	fmt.Fprintf(out, "   nodes: %d | meshes: %d | skins: %d\n", len(sc.Mesh.Nodes), sc.Mesh.Meshes, sc.Mesh.Skins)
	fmt.Fprintf(out, "   surface: %dx%d\n", sc.Surface.Width, sc.Surface.Height)

	clips := sc.Clips()
	sort.Slice(clips, func(i, j int) bool { return clips[i].Name < clips[j].Name })
	colours.Info.Fprintf(out, "🎞️  %d clips\n", len(clips))
	for _, clip := range clips {
		fmt.Fprintf(out, "  • %s (%.2fs, %d channels)\n", clip.Name, clip.Duration, clip.Channels)
	}
	for _, w := range sc.Warnings {
		colours.Warning.Fprintf(out, "⚠️  %s\n", w)
	}
	return nil
}

func (c *Commands) ShowCacheStatus(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	colours.Title.Fprintln(out, "📊 Cache Status")

	stats, err := speech.CacheStats(cfg.Speech.CacheDir)
	if err != nil {
		colours.Error.Fprintf(out, "❌ Failed to read speech cache: %v\n", err)
	} else {
		colours.Info.Fprintf(out, "🔊 Speech: %v files, %.2f MB in %s\n", stats["cached_files"], stats["total_size_mb"], cfg.Speech.CacheDir)
	}

	assets := scene.NewAssetCache(cfg.Scene.CacheDir, cfg.Scene.CacheMaxAge)
	for _, location := range []string{cfg.Scene.Mesh, cfg.Scene.Clips} {
		info := assets.Info(location)
		if exists, _ := info["exists"].(bool); !exists {
			colours.Muted.Fprintf(out, "📦 %s: not cached\n", location)
			continue
		}
		state := "stale"
		if fresh, _ := info["is_fresh"].(bool); fresh {
			state = "fresh"
		}
		colours.Info.Fprintf(out, "📦 %s: %d bytes, %s, modified %s\n", location, info["size"], state,
			info["last_modified"].(time.Time).Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (c *Commands) ClearCache(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	if err := speech.ClearCache(cfg.Speech.CacheDir); err != nil {
		return fmt.Errorf("failed to clear speech cache: %w", err)
	}
	if err := scene.NewAssetCache(cfg.Scene.CacheDir, cfg.Scene.CacheMaxAge).Clear(); err != nil {
		return err
	}
	colours.Success.Fprintln(cmd.OutOrStdout(), "🧹 Caches cleared")
	return nil
}

func (c *Commands) ShowHistory(cmd *cobra.Command, args []string) error {
	cfg, err := c.config(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	limit, _ := cmd.Flags().GetInt("limit")

	if _, err := os.Stat(cfg.Journal.Path); err != nil {
		colours.Warning.Fprintln(out, "📭 No sessions recorded yet")
		return nil
	}
	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(c.Ctx, limit)
	if err != nil {
		return err
	}

	colours.Title.Fprintln(out, "📜 Recent session events")
	for _, e := range entries {
		line := fmt.Sprintf("%s  #%d %-8s %q", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Epoch, e.Status, truncate(e.Text, 40))
		switch e.Status {
		case session.Failed.String():
			colours.Error.Fprintf(out, "%s %s\n", line, e.Error)
		case session.Playing.String():
			colours.Success.Fprintln(out, line)
		default:
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
