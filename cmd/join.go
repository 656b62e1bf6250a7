package cmd

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/config"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/media"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/session"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/signaling"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/ui"
)

var (
	flagDomain   string
	flagUser     string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagInsecure bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a voice room from the terminal",
	Long: `Join a room as a participant: announce yourself on the room's
broadcast topic, build a peer connection to every other participant and
open a shared text chat.

Examples:
  lingo-connect join spanish-beginners
  lingo-connect join spanish-beginners --user maria
  lingo-connect join --domain localhost:8080 --insecure practice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(roomID string) error {
	cfg, err := config.Load(config.Options{
		Domain:     flagDomain,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		Insecure:   flagInsecure,
	})
	if err != nil {
		return err
	}

	userID := flagUser
	if userID == "" {
		userID = "guest-" + uuid.NewString()[:8]
	}
	ui.PrintInfo(fmt.Sprintf("Joining %s as %s", roomID, userID))

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	defer stopSpinner()

	client := signaling.NewClient(cfg.WebSocketURL)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}

	channel, err := signaling.Attach(client, roomID, userID)
	if err != nil {
		client.Close()
		return fmt.Errorf("attach to room: %w", err)
	}
	stopSpinner()

	// Local capture failure is not fatal: the session continues
	// listen-only and mute toggling becomes a no-op.
	controller := media.NewController(media.NewToneSource())
	if err := controller.Start(); err != nil {
		slog.Warn("local audio unavailable", "err", err)
		ui.PrintWarning("Microphone unavailable, joining listen-only")
	}

	sess := session.New(roomID, userID, channel, session.NewPionConnector(cfg), controller)

	model := ui.NewRoomModel(roomID, userID, controller.ToggleMute, func(body string) {
		if err := sess.SendChat(body); err != nil {
			slog.Debug("chat dropped", "err", err)
		}
	})
	program := ui.NewRoomProgram(model)

	sess.OnPeersChanged = func(infos []session.PeerInfo) {
		rows := make([]ui.ParticipantRow, len(infos))
		for i, info := range infos {
			rows[i] = ui.ParticipantRow{
				ID:        info.ID,
				Streaming: info.HasStream,
				ChatReady: info.ChatReady,
			}
		}
		program.Send(ui.PeersMsg(rows))
	}
	sess.OnChat = func(msg session.ChatMessage) {
		program.Send(ui.ChatMsg{Sender: msg.Sender, Body: msg.Body, SentAt: msg.SentAt})
	}

	sess.Start()
	_, runErr := program.Run()

	// Leaving is unconditional: peers, channel and media go down together.
	sess.Stop()

	if runErr != nil {
		return runErr
	}
	ui.PrintSuccess("Left the room")
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom server domain")
	joinCmd.Flags().StringVarP(&flagUser, "user", "u", "", "User id to announce (default generated)")
	joinCmd.Flags().StringVar(&flagSTUN, "stun", "", "Custom STUN server")
	joinCmd.Flags().StringVar(&flagTURN, "turn", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "Use ws:// and http:// (local development)")
}
