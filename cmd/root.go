package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/ui"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "lingo-connect",
	Short:   "Voice chatrooms for language exchange, over a WebRTC mesh",
	Long: `Lingo Connect hosts drop-in voice rooms for spoken language practice.
Participants connect directly to each other over WebRTC; the server only
relays the signaling needed to pair them up. Run 'serve' to host the
signaling server, 'join' to enter a room from the terminal and 'rooms'
to see what is active.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
