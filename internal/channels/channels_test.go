package channels

import (
	"context"
	"testing"
)

type recordingSender struct {
	channel string
	texts   []string
	chats   []string
}

func (s *recordingSender) Channel() string { return s.channel }

func (s *recordingSender) SendText(_ context.Context, chatID, text string) error {
	s.chats = append(s.chats, chatID)
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSender) SendDocument(_ context.Context, chatID, path, caption string) error {
	s.chats = append(s.chats, chatID)
	return nil
}

func TestRouter_RoutesByChannelPrefix(t *testing.T) {
	router := NewRouter(nil)
	telegram := &recordingSender{channel: "telegram"}
	slack := &recordingSender{channel: "slack"}
	router.Register(telegram)
	router.Register(slack)

	if err := router.Send(context.Background(), "telegram:12345", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := router.Send(context.Background(), "slack:C01ABC", "world"); err != nil {
		t.Fatal(err)
	}

	if len(telegram.texts) != 1 || telegram.chats[0] != "12345" {
		t.Errorf("telegram got %v @ %v", telegram.texts, telegram.chats)
	}
	if len(slack.texts) != 1 || slack.chats[0] != "C01ABC" {
		t.Errorf("slack got %v @ %v", slack.texts, slack.chats)
	}
}

func TestRouter_Errors(t *testing.T) {
	router := NewRouter(nil)
	if err := router.Send(context.Background(), "telegram:1", "x"); err == nil {
		t.Error("unregistered channel should error")
	}
	if err := router.Send(context.Background(), "nocolon", "x"); err == nil {
		t.Error("malformed key should error")
	}
	if err := router.SendFile(context.Background(), "telegram:", "p", "c"); err == nil {
		t.Error("empty chat id should error")
	}
}
