package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const chatLogLines = 8

// Messages the session layer pushes into the running program.
type (
	// PeersMsg replaces the roster.
	PeersMsg []ParticipantRow

	// ChatMsg appends one line to the chat log.
	ChatMsg struct {
		Sender string
		Body   string
		SentAt time.Time
	}
)

// RoomModel is the live room view: roster, chat log and input line.
type RoomModel struct {
	roomID string
	userID string

	rows    []ParticipantRow
	chatLog []string
	muted   bool

	input textinput.Model

	// onToggleMute returns the new mute state.
	onToggleMute func() bool
	onSendChat   func(string)
}

func NewRoomModel(roomID, userID string, onToggleMute func() bool, onSendChat func(string)) RoomModel {
	input := textinput.New()
	input.Placeholder = "Say something…"
	input.CharLimit = 500
	input.Focus()

	return RoomModel{
		roomID:       roomID,
		userID:       userID,
		muted:        true, // sessions start muted
		input:        input,
		onToggleMute: onToggleMute,
		onSendChat:   onSendChat,
	}
}

func (m RoomModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "ctrl+t":
			if m.onToggleMute != nil {
				m.muted = m.onToggleMute()
			}
			return m, nil

		case "enter":
			body := strings.TrimSpace(m.input.Value())
			if body != "" && m.onSendChat != nil {
				m.onSendChat(body)
				m.appendChat(m.userID+" (you)", body, time.Now())
			}
			m.input.SetValue("")
			return m, nil
		}

	case PeersMsg:
		m.rows = msg
		return m, nil

	case ChatMsg:
		m.appendChat(msg.Sender, msg.Body, msg.SentAt)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *RoomModel) appendChat(sender, body string, at time.Time) {
	line := fmt.Sprintf("%s %s %s: %s",
		MutedStyle.Render(at.Format("15:04")),
		IconChat,
		BoldStyle.Render(truncate(sender, 20)),
		body,
	)
	m.chatLog = append(m.chatLog, line)
	if len(m.chatLog) > chatLogLines {
		m.chatLog = m.chatLog[len(m.chatLog)-chatLogLines:]
	}
}

func (m RoomModel) View() string {
	var b strings.Builder

	micState := fmt.Sprintf("%s live", IconMic)
	if m.muted {
		micState = fmt.Sprintf("%s muted", IconMuted)
	}

	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.roomID)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("you: %s  ·  %s\n\n", BoldStyle.Render(m.userID), micState))

	b.WriteString(ParticipantTableView(m.rows))
	b.WriteString("\n\n")

	if len(m.chatLog) > 0 {
		b.WriteString(strings.Join(m.chatLog, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("enter: send  ·  ctrl+t: mute/unmute  ·  esc: leave"))
	b.WriteString("\n")

	return b.String()
}

// NewRoomProgram wraps the model in a bubbletea program; the caller pushes
// PeersMsg/ChatMsg into it with Send.
func NewRoomProgram(m RoomModel) *tea.Program {
	return tea.NewProgram(m)
}
