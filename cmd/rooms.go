package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dallasson/lingo-connect-chatrooms/internal/config"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/hub"
	"github.com/Dallasson/lingo-connect-chatrooms/internal/ui"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRooms()
	},
}

func listRooms() error {
	cfg, err := config.Load(config.Options{
		Domain:   flagDomain,
		Insecure: flagInsecure,
	})
	if err != nil {
		return err
	}

	stopSpinner := ui.RunSpinner("Fetching rooms...")
	defer stopSpinner()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Get(cfg.APIBaseURL + "/rooms")
	if err != nil {
		return fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch rooms: server returned %s", resp.Status)
	}

	var payload struct {
		Rooms []hub.Summary `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode rooms: %w", err)
	}
	stopSpinner()

	items := make([]ui.RoomListItem, len(payload.Rooms))
	for i, room := range payload.Rooms {
		items[i] = ui.RoomListItem{
			ID:           room.ID,
			Participants: len(room.Participants),
			CreatedAt:    room.CreatedAt,
		}
	}
	ui.RenderRoomList(items)
	return nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom server domain")
	roomsCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "Use http:// (local development)")
}
