package app

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the CLI.
func NewRootCommand(c *Commands) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "talkinghead",
		Short: "🗣️ A talking avatar driven by text-to-speech",
		Long: `
┌─────────────────────────────────────┐
│  🗣️  talkinghead                    │
│  Text in, a speaking avatar out     │
└─────────────────────────────────────┘

talkinghead synthesizes speech for a line of text, plays it, and switches the
avatar between its idle and talking animations while the audio runs.
		`,
		SilenceUsage: true,
		Run:          c.ShowWelcome,
	}

	// Speak command
	speakCmd := &cobra.Command{
		Use:   "speak [text]",
		Short: "💬 Say something",
		Long:  "Synthesize text, play it and animate the avatar until the audio ends",
		Args: func(cmd *cobra.Command, args []string) error {
			if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: c.Speak,
	}

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "🌐 Run the websocket host",
		Long:  "Accept speak and stop messages over a websocket and serve the audio handles over HTTP",
		RunE:  c.Serve,
	}

	// Voices command
	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🎤 List voices",
		Long:  "List the voices the configured speech provider offers",
		RunE:  c.ListVoices,
	}

	// Scene command
	sceneCmd := &cobra.Command{
		Use:   "scene",
		Short: "🧍 Describe the avatar",
		Long:  "Load the avatar mesh and animation clips and print what was found",
		RunE:  c.ShowScene,
	}

	// Cache commands
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "📦 Manage caches",
		Long:  "Inspect or clear the synthesized speech and downloaded asset caches",
		RunE:  c.ShowCacheStatus,
	}
	cacheStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "📊 Show cache status",
		RunE:  c.ShowCacheStatus,
	}
	cacheClearCmd := &cobra.Command{
		Use:   "clear",
		Short: "🧹 Clear caches",
		RunE:  c.ClearCache,
	}
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd)

	// History command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "📜 Show recent sessions",
		Long:  "Print the most recent session status changes from the journal",
		RunE:  c.ShowHistory,
	}

	// Add flags
	for _, cmd := range []*cobra.Command{speakCmd, serveCmd, voicesCmd} {
		cmd.Flags().StringP("provider", "p", "", "Speech provider: auto, elevenlabs, openai, google, espeak, system, mock")
		cmd.Flags().StringP("voice", "v", "", "Voice to use. See 'talkinghead voices' for options")
	}
	for _, cmd := range []*cobra.Command{speakCmd, serveCmd} {
		cmd.Flags().StringP("output", "o", "", "Audio output: speaker or clock")
	}
	speakCmd.Flags().BoolP("interactive", "i", false, "Read lines from stdin and speak each one")
	speakCmd.Flags().Bool("no-wait", false, "Return as soon as playback starts")
	serveCmd.Flags().String("addr", "", "Listen address, e.g. :8080")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of events to show")

	rootCmd.AddCommand(speakCmd, serveCmd, voicesCmd, sceneCmd, cacheCmd, historyCmd)
	return rootCmd
}
