package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// Sender routes outbound messages to the channel a session belongs to.
// The channels package installs the concrete implementation.
type Sender interface {
	Send(ctx context.Context, sessionKey, text string) error
	SendFile(ctx context.Context, sessionKey, path, caption string) error
}

func senderFrom(tc *Context) Sender {
	if tc == nil || tc.Extra == nil {
		return nil
	}
	s, _ := tc.Extra["send"].(Sender)
	return s
}

type sendMessageParams struct {
	Text string `json:"text" jsonschema:"description=Message text to deliver"`
}

// SendMessageTool pushes a message to the user's channel mid-run.
type SendMessageTool struct{}

func (t *SendMessageTool) Name() string     { return "send_message" }
func (t *SendMessageTool) Category() string { return "messaging" }
func (t *SendMessageTool) Description() string {
	return "Send a text message to the user via the configured channel."
}

func (t *SendMessageTool) Parameters() json.RawMessage { return SchemaFor(&sendMessageParams{}) }

func (t *SendMessageTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	sender := senderFrom(tc)
	if sender == nil {
		return "Error: no channel sender configured; message not delivered", nil
	}
	text := strings.TrimSpace(stringParam(params, "text"))
	if text == "" {
		return "Error: text is required", nil
	}
	if err := sender.Send(ctx, tc.SessionKey, text); err != nil {
		return "Error: send failed: " + err.Error(), nil
	}
	return "Message delivered.", nil
}

type sendFileParams struct {
	Path    string `json:"path" jsonschema:"description=Path of the file to send"`
	Caption string `json:"caption,omitempty" jsonschema:"description=Optional caption"`
}

// SendFileTool pushes a file to the user's channel.
type SendFileTool struct{}

func (t *SendFileTool) Name() string     { return "send_file" }
func (t *SendFileTool) Category() string { return "messaging" }
func (t *SendFileTool) Description() string {
	return "Send a file to the user via the configured channel."
}

func (t *SendFileTool) Parameters() json.RawMessage { return SchemaFor(&sendFileParams{}) }

func (t *SendFileTool) Execute(ctx context.Context, params map[string]any, tc *Context) (any, error) {
	sender := senderFrom(tc)
	if sender == nil {
		return "Error: no channel sender configured; file not delivered", nil
	}
	path, err := resolvePath(ctx, stringParam(params, "path"), tc)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	if err := sender.SendFile(ctx, tc.SessionKey, path, stringParam(params, "caption")); err != nil {
		return "Error: send failed: " + err.Error(), nil
	}
	return "File delivered.", nil
}
