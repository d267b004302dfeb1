// Package slack receives Slack Events API messages and posts messages.
package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/utils"
)

const (
	BaseURL = "https://slack.com/api"

	FieldBotToken      = "botToken"
	FieldSigningSecret = "signingSecret"

	// signatureWindow is how far a request timestamp may drift from now.
	signatureWindow = 5 * time.Minute
)

var (
	ErrInvalidSignature = errors.New("invalid slack signature")

	now = time.Now
)

func App() *app.App {
	return &app.App{
		Key:     "slack",
		Name:    "Slack",
		BaseURL: BaseURL,
		AuthFields: []app.Field{
			{Key: FieldBotToken, Label: "Bot token", Required: true, Secret: true},
			{Key: FieldSigningSecret, Label: "Signing secret", Required: true, Secret: true},
		},
		Auth: &auth.APIKey{
			Field:       FieldBotToken,
			Prefix:      "Bearer ",
			CurrentUser: CurrentUser,
		},
		Triggers: []*app.Trigger{
			{
				Key:         "newMessage",
				Name:        "New message",
				Description: "Triggers on message and app_mention events. Point the Slack app's event subscription at the flow's webhook URL.",
				Type:        app.TriggerWebhook,
				Arguments: []app.Argument{
					{Key: "channel", Label: "Channel ID", Description: "Only messages from this channel. Empty means any.", Type: app.ArgString},
				},
				Handler: newMessage,
			},
		},
		Actions: []*app.Action{
			{
				Key:  "sendMessage",
				Name: "Send message",
				Arguments: []app.Argument{
					{Key: "channel", Label: "Channel ID", Type: app.ArgString, Required: true, Variables: true},
					{Key: "text", Label: "Text", Type: app.ArgString, Required: true, Variables: true},
					{Key: "threadTs", Label: "Thread timestamp", Description: "Reply in this thread.", Type: app.ArgString, Variables: true},
				},
				Handler: sendMessage,
			},
		},
	}
}

// VerifySignature checks the X-Slack-Signature header of a request.
func VerifySignature(secret string, hdr http.Header, body []byte) error {
	sig := hdr.Get("X-Slack-Signature")
	timestamp := hdr.Get("X-Slack-Request-Timestamp")
	if sig == "" || timestamp == "" {
		return fmt.Errorf("%w: missing headers", ErrInvalidSignature)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if math.Abs(float64(now().Unix()-ts)) > signatureWindow.Seconds() {
		return fmt.Errorf("%w: stale timestamp", ErrInvalidSignature)
	}
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the v0 signature Slack sends for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id"`
	TeamID  string          `json:"team_id"`
	Event   json.RawMessage `json:"event"`
}

type innerEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	Ts       string `json:"ts"`
	ThreadTs string `json:"thread_ts"`
}

func newMessage(ctx context.Context, c *app.Context) error {
	if c.Webhook == nil {
		return nil
	}
	data, err := c.Auth.Data(ctx)
	if err != nil {
		return err
	}
	if err := VerifySignature(data.String(FieldSigningSecret), c.Webhook.Headers, c.Webhook.Body); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(c.Webhook.Body, &env); err != nil {
		return fmt.Errorf("decode slack event: %w", err)
	}
	if env.Type != "event_callback" {
		utils.DebugCtx(ctx, "ignoring slack envelope", "type", env.Type)
		return nil
	}
	var ev innerEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode slack inner event: %w", err)
	}
	if ev.Type != "message" && ev.Type != "app_mention" {
		return nil
	}
	// edits, deletions and bot echoes are not new messages
	if ev.Subtype != "" || ev.BotID != "" {
		return nil
	}
	if ch := c.ParamString("channel"); ch != "" && ch != ev.Channel {
		return nil
	}

	thread := ev.ThreadTs
	if thread == "" {
		thread = ev.Ts
	}
	c.PushTriggerItem(app.TriggerItem{
		Raw: map[string]any{
			"type":     ev.Type,
			"user":     ev.User,
			"channel":  ev.Channel,
			"text":     ev.Text,
			"ts":       ev.Ts,
			"threadTs": thread,
			"teamId":   env.TeamID,
		},
		Meta: app.ItemMeta{InternalID: env.EventID},
	})
	return nil
}

// apiResponse is the envelope of every Web API answer; failures arrive with HTTP 200.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func call(ctx context.Context, client *httpclient.Client, method string, body any) (*httpclient.Response, error) {
	resp, err := client.Post(ctx, "/"+method, body)
	if err != nil {
		return nil, err
	}
	var status apiResponse
	if err := resp.JSON(&status); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !status.OK {
		return nil, fmt.Errorf("slack %s: %s", method, status.Error)
	}
	return resp, nil
}

// CurrentUser identifies the bot behind the token with auth.test.
func CurrentUser(ctx context.Context, client *httpclient.Client) (*auth.Profile, error) {
	resp, err := call(ctx, client, "auth.test", nil)
	if err != nil {
		return nil, err
	}
	var who struct {
		UserID string `json:"user_id"`
		User   string `json:"user"`
		Team   string `json:"team"`
	}
	if err := resp.JSON(&who); err != nil {
		return nil, err
	}
	return &auth.Profile{ID: who.UserID, Name: who.User + "@" + who.Team, Raw: resp.Data()}, nil
}

func sendMessage(ctx context.Context, c *app.Context) error {
	body := map[string]any{
		"channel": c.ParamString("channel"),
		"text":    c.ParamString("text"),
	}
	if ts := c.ParamString("threadTs"); ts != "" {
		body["thread_ts"] = ts
	}
	resp, err := call(ctx, c.HTTP, "chat.postMessage", body)
	if err != nil {
		return err
	}
	out, _ := utils.SafeMapAssert(resp.Data())
	c.SetActionItem(out)
	return nil
}
