package http

import (
	"encoding/json"
	"testing"

	"quizroom-service/internal/app"
)

func newTestClient(id, userID string, buffer int) *client {
	return &client{id: id, userID: userID, send: make(chan []byte, buffer)}
}

func TestHubTargetsRecipients(t *testing.T) {
	hub := NewHub(nil)
	alice := newTestClient("c1", "u1", 4)
	bob := newTestClient("c2", "u2", 4)
	stranger := newTestClient("c3", "u3", 4)
	hub.attach("ABC123", alice)
	hub.attach("ABC123", bob)
	hub.attach("XYZ789", stranger)

	hub.Publish("ABC123", app.Event{Type: app.EventRoster, Payload: app.RosterPayload{}})
	hub.Publish("ABC123", app.Event{Type: app.EventAnswerResult, To: "u2", Payload: app.AnswerResult{Correct: true}})
	hub.Publish("ABC123", app.Event{Type: app.EventParticipantSubmitted, Except: "u2", Payload: app.ParticipantSubmittedPayload{UserID: "u2"}})

	if got := drainTypes(alice); len(got) != 2 || got[0] != "roster" || got[1] != "participantSubmitted" {
		t.Fatalf("alice received %v", got)
	}
	if got := drainTypes(bob); len(got) != 2 || got[0] != "roster" || got[1] != "answerResult" {
		t.Fatalf("bob received %v", got)
	}
	if got := drainTypes(stranger); len(got) != 0 {
		t.Fatalf("other room received %v", got)
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(nil)
	slow := newTestClient("c1", "u1", 1)
	hub.attach("ABC123", slow)

	hub.Publish("ABC123", app.Event{Type: app.EventRoster, Payload: app.RosterPayload{}})
	hub.Publish("ABC123", app.Event{Type: app.EventLeaderboard, Payload: nil})

	if got := drainTypes(slow); len(got) != 1 || got[0] != "roster" {
		t.Fatalf("expected only the first event, got %v", got)
	}
}

func TestHubDetachRemovesEmptyRoom(t *testing.T) {
	hub := NewHub(nil)
	c := newTestClient("c1", "u1", 1)
	hub.attach("ABC123", c)
	if hub.RoomSize("ABC123") != 1 {
		t.Fatalf("expected one connection")
	}
	hub.detach("ABC123", c)
	hub.detach("ABC123", c)
	if hub.RoomSize("ABC123") != 0 {
		t.Fatalf("expected empty room")
	}
	hub.Publish("ABC123", app.Event{Type: app.EventRoster})
	if len(c.send) != 0 {
		t.Fatalf("detached client must not receive events")
	}
}

func TestHubTracksConnectionsPerUser(t *testing.T) {
	hub := NewHub(nil)
	tab1 := newTestClient("c1", "u1", 1)
	tab2 := newTestClient("c2", "u1", 1)
	other := newTestClient("c3", "u2", 1)
	hub.attach("ABC123", tab1)
	hub.attach("ABC123", tab2)
	hub.attach("ABC123", tab2)
	hub.attach("ABC123", other)

	if n := hub.Connections("ABC123", "u1"); n != 2 {
		t.Fatalf("expected two connections for u1, got %d", n)
	}
	if hub.detach("ABC123", tab1) {
		t.Fatalf("closing one of two tabs must not count as the last connection")
	}
	if !hub.detach("ABC123", tab2) {
		t.Fatalf("closing the remaining tab must count as the last connection")
	}
	if hub.detach("ABC123", tab2) {
		t.Fatalf("detaching twice must not report a second departure")
	}
	if n := hub.Connections("ABC123", "u2"); n != 1 {
		t.Fatalf("other users are unaffected, got %d", n)
	}
}

func drainTypes(c *client) []string {
	var types []string
	for {
		select {
		case data := <-c.send:
			var msg struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(data, &msg)
			types = append(types, msg.Type)
		default:
			return types
		}
	}
}
