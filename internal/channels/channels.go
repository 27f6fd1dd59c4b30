// Package channels adapts outbound message delivery to the chat platforms
// grip speaks to. Each sender covers one platform; the Router picks the
// sender from the session key's channel prefix.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Sender delivers text and files to one platform. The chat id is the
// platform-native conversation identifier from the session key.
type Sender interface {
	// Channel returns the channel prefix this sender serves.
	Channel() string
	// SendText delivers a message to a chat.
	SendText(ctx context.Context, chatID, text string) error
	// SendDocument delivers a file to a chat.
	SendDocument(ctx context.Context, chatID, path, caption string) error
}

// Router dispatches sends by session key ("<channel>:<id>"). It satisfies
// the tool layer's Sender contract.
type Router struct {
	mu      sync.RWMutex
	senders map[string]Sender
	logger  *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		senders: map[string]Sender{},
		logger:  logger.With("component", "channels"),
	}
}

// Register adds a platform sender.
func (r *Router) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Channel()] = s
}

// splitKey separates a session key into channel and chat id.
func splitKey(sessionKey string) (string, string, error) {
	channel, id, ok := strings.Cut(sessionKey, ":")
	if !ok || channel == "" || id == "" {
		return "", "", fmt.Errorf("malformed session key %q", sessionKey)
	}
	return channel, id, nil
}

func (r *Router) senderFor(sessionKey string) (Sender, string, error) {
	channel, chatID, err := splitKey(sessionKey)
	if err != nil {
		return nil, "", err
	}
	r.mu.RLock()
	sender, ok := r.senders[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no sender registered for channel %q", channel)
	}
	return sender, chatID, nil
}

// Send routes a text message to the session's platform.
func (r *Router) Send(ctx context.Context, sessionKey, text string) error {
	sender, chatID, err := r.senderFor(sessionKey)
	if err != nil {
		return err
	}
	return sender.SendText(ctx, chatID, text)
}

// SendFile routes a file to the session's platform.
func (r *Router) SendFile(ctx context.Context, sessionKey, path, caption string) error {
	sender, chatID, err := r.senderFor(sessionKey)
	if err != nil {
		return err
	}
	return sender.SendDocument(ctx, chatID, path, caption)
}
