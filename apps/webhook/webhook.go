// Package webhook catches arbitrary HTTP requests sent to a flow's webhook URL.
package webhook

import (
	"context"
	"encoding/json"

	"github.com/awantoch/flowhook/app"
	"github.com/tidwall/gjson"
)

func App() *app.App {
	return &app.App{
		Key:  "webhook",
		Name: "Webhook",
		Triggers: []*app.Trigger{
			{
				Key:         "catchRawWebhook",
				Name:        "Catch raw webhook",
				Description: "Triggers when the flow's webhook URL receives a request.",
				Type:        app.TriggerWebhook,
				Arguments: []app.Argument{
					{
						Key:         "idPath",
						Label:       "Event ID path",
						Description: "Path into the JSON body of a unique event ID, like data.id. Requests with an ID already seen are ignored.",
						Type:        app.ArgString,
					},
				},
				Handler: catchRawWebhook,
			},
		},
	}
}

func catchRawWebhook(ctx context.Context, c *app.Context) error {
	if c.Webhook == nil {
		return nil
	}
	body := c.Webhook.Payload()
	headers := map[string]any{}
	for k := range c.Webhook.Headers {
		headers[k] = c.Webhook.Headers.Get(k)
	}
	query := map[string]any{}
	for k := range c.Webhook.Query {
		query[k] = c.Webhook.Query.Get(k)
	}
	item := app.TriggerItem{
		Raw: map[string]any{
			"method":  c.Webhook.Method,
			"headers": headers,
			"query":   query,
			"body":    body,
		},
	}
	if path := c.ParamString("idPath"); path != "" && json.Valid(c.Webhook.Body) {
		if res := gjson.GetBytes(c.Webhook.Body, path); res.Exists() {
			item.Meta.InternalID = res.String()
		}
	}
	c.PushTriggerItem(item)
	return nil
}
