package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RoomListItem is one row of the rooms listing.
type RoomListItem struct {
	ID           string
	Participants int
	CreatedAt    time.Time
}

// RenderRoomList prints the active rooms as a go-pretty table.
func RenderRoomList(items []RoomListItem) {
	if len(items) == 0 {
		fmt.Println(MutedStyle.Render("No active rooms"))
		return
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Room", "Participants", "Age"})
	for i, item := range items {
		t.AppendRow(table.Row{
			i + 1,
			item.ID,
			item.Participants,
			time.Since(item.CreatedAt).Round(time.Second),
		})
	}
	fmt.Println(t.Render())
}

// ParticipantRow is one peer in the room view's roster.
type ParticipantRow struct {
	ID        string
	Streaming bool
	ChatReady bool
}

// ParticipantTableView renders the roster for the live room view.
func ParticipantTableView(rows []ParticipantRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	headers := []string{"Participant", "Audio", "Chat"}
	var body [][]string
	for _, row := range rows {
		audio := MutedStyle.Render("connecting")
		if row.Streaming {
			audio = "live"
		}
		chatState := "-"
		if row.ChatReady {
			chatState = "open"
		}
		body = append(body, []string{
			fmt.Sprintf("%s %s", IconPeer, truncate(row.ID, 24)),
			audio,
			chatState,
		})
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(body...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-1]) + "…"
}
