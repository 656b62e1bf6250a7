package hub

import "time"

// Room is a single broadcast topic with its current subscribers, keyed by
// user id. Rooms exist only while at least one subscriber is attached.
type Room struct {
	ID          string
	Subscribers map[string]*Client
	CreatedAt   time.Time
}

func newRoom(id string) *Room {
	return &Room{
		ID:          id,
		Subscribers: make(map[string]*Client),
		CreatedAt:   time.Now(),
	}
}

// Summary is the read-only room snapshot served by the REST API.
type Summary struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Room) summary() Summary {
	participants := make([]string, 0, len(r.Subscribers))
	for id := range r.Subscribers {
		participants = append(participants, id)
	}
	return Summary{
		ID:           r.ID,
		Participants: participants,
		CreatedAt:    r.CreatedAt,
	}
}
