package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestPrincipal(t *testing.T) {
	tests := []struct {
		userID int64
		want   string
	}{
		{42, "telegram:42"},
		{0, "telegram:0"},
		{987654321, "telegram:987654321"},
	}
	for _, tt := range tests {
		if got := Principal(tt.userID); got != tt.want {
			t.Errorf("Principal(%d) = %q, want %q", tt.userID, got, tt.want)
		}
	}
}

func chatMessage(chatID, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Chat: &tgbotapi.Chat{ID: chatID},
			From: &tgbotapi.User{ID: userID},
		},
	}
}

// newTestChannel binds a channel to chatID with deliveries captured in a
// slice instead of hitting the Bot API.
func newTestChannel(chatID int64) (*Channel, *[]string) {
	var sent []string
	c := &Channel{chatID: chatID}
	c.send = func(text string) error {
		sent = append(sent, text)
		return nil
	}
	return c, &sent
}

func TestConsumeRoutesBoundChat(t *testing.T) {
	c, sent := newTestChannel(7)

	type call struct{ principal, text string }
	var calls []call
	handle := func(principal, text string) string {
		calls = append(calls, call{principal, text})
		return "ack: " + text
	}

	updates := make(chan tgbotapi.Update, 1)
	updates <- chatMessage(7, 42, "status")
	close(updates)
	c.consume(updates, handle)

	if len(calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(calls))
	}
	if calls[0].principal != "telegram:42" || calls[0].text != "status" {
		t.Errorf("handler got %+v", calls[0])
	}
	if len(*sent) != 1 || (*sent)[0] != "ack: status" {
		t.Errorf("sent = %v, want the handler response", *sent)
	}
}

func TestConsumeDropsForeignChat(t *testing.T) {
	c, sent := newTestChannel(7)

	handled := false
	handle := func(principal, text string) string {
		handled = true
		return "should not happen"
	}

	updates := make(chan tgbotapi.Update, 1)
	updates <- chatMessage(999, 42, "status")
	close(updates)
	c.consume(updates, handle)

	if handled {
		t.Error("handler invoked for a message from an unbound chat")
	}
	if len(*sent) != 0 {
		t.Errorf("sent = %v, want nothing", *sent)
	}
}

func TestConsumeSuppressesEmptyResponse(t *testing.T) {
	c, sent := newTestChannel(7)

	updates := make(chan tgbotapi.Update, 1)
	updates <- chatMessage(7, 42, "")
	close(updates)
	c.consume(updates, func(principal, text string) string { return "reply" })

	if len(*sent) != 0 {
		t.Errorf("sent = %v for an empty message, want nothing", *sent)
	}

	updates = make(chan tgbotapi.Update, 1)
	updates <- chatMessage(7, 42, "hm")
	close(updates)
	c.consume(updates, func(principal, text string) string { return "" })

	if len(*sent) != 0 {
		t.Errorf("sent = %v for an empty handler response, want nothing", *sent)
	}
}

func TestDeliver(t *testing.T) {
	c, sent := newTestChannel(7)
	if err := c.Deliver("Error in agents:1"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(*sent) != 1 || (*sent)[0] != "Error in agents:1" {
		t.Errorf("sent = %v", *sent)
	}
}
