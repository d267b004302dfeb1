// Package fireflyiii integrates a self-hosted Firefly III instance.
package fireflyiii

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/utils"
	"golang.org/x/oauth2"
)

// FieldInstanceURL holds the root URL of the Firefly III instance.
const FieldInstanceURL = "instanceUrl"

func instanceURL(data credentials.Data) string {
	return strings.TrimRight(data.String(FieldInstanceURL), "/")
}

func App() *app.App {
	return &app.App{
		Key:  "firefly-iii",
		Name: "Firefly III",
		BaseURLFunc: func(data credentials.Data) string {
			return instanceURL(data) + "/api"
		},
		AuthFields: []app.Field{
			{Key: FieldInstanceURL, Label: "Firefly III URL", Required: true},
			{Key: constants.FieldRedirectURL, Label: "OAuth redirect URL", Required: true},
			{Key: constants.FieldClientID, Label: "Client ID", Required: true},
			{Key: constants.FieldClientSecret, Label: "Client secret", Required: true, Secret: true},
		},
		Auth: &auth.OAuth2AuthCode{
			Endpoint: func(data credentials.Data) oauth2.Endpoint {
				base := instanceURL(data)
				return oauth2.Endpoint{
					AuthURL:   base + "/oauth/authorize",
					TokenURL:  base + "/oauth/token",
					AuthStyle: oauth2.AuthStyleInParams,
				}
			},
			CurrentUser: CurrentUser,
		},
		Triggers: []*app.Trigger{
			{
				Key:         "newTransactions",
				Name:        "New transactions",
				Description: "Triggers when a transaction is recorded.",
				Type:        app.TriggerPoll,
				Dedup:       app.NumericIDCursor{Path: "id"},
				Arguments: []app.Argument{
					{
						Key:     "type",
						Label:   "Transaction type",
						Type:    app.ArgDropdown,
						Default: "all",
						Options: []app.Option{
							{Label: "All", Value: "all"},
							{Label: "Withdrawals", Value: "withdrawal"},
							{Label: "Deposits", Value: "deposit"},
							{Label: "Transfers", Value: "transfer"},
						},
					},
				},
				Handler: newTransactions,
			},
		},
		Actions: []*app.Action{
			{
				Key:         "createTransaction",
				Name:        "Create transaction",
				Description: "Records a withdrawal, deposit or transfer.",
				Arguments: []app.Argument{
					{
						Key:      "type",
						Label:    "Type",
						Type:     app.ArgDropdown,
						Required: true,
						Default:  "withdrawal",
						Options: []app.Option{
							{Label: "Withdrawal", Value: "withdrawal"},
							{Label: "Deposit", Value: "deposit"},
							{Label: "Transfer", Value: "transfer"},
						},
					},
					{Key: "description", Label: "Description", Type: app.ArgString, Required: true, Variables: true},
					{Key: "amount", Label: "Amount", Type: app.ArgNumber, Required: true, Variables: true},
					{Key: "date", Label: "Date", Description: "Defaults to today.", Type: app.ArgString, Variables: true},
					{Key: "sourceName", Label: "Source account", Type: app.ArgString, Variables: true},
					{Key: "destinationName", Label: "Destination account", Type: app.ArgString, Variables: true},
					{Key: "categoryName", Label: "Category", Type: app.ArgString, Variables: true},
				},
				Handler: createTransaction,
			},
		},
	}
}

// CurrentUser fetches the user that owns the token.
func CurrentUser(ctx context.Context, client *httpclient.Client) (*auth.Profile, error) {
	resp, err := client.Get(ctx, "/v1/about/user", nil)
	if err != nil {
		return nil, err
	}
	var user struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				Email string `json:"email"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &auth.Profile{
		ID:    user.Data.ID,
		Name:  user.Data.Attributes.Email,
		Email: user.Data.Attributes.Email,
		Raw:   resp.Data(),
	}, nil
}

func newTransactions(ctx context.Context, c *app.Context) error {
	q := url.Values{"page": []string{"1"}, "limit": []string{"50"}}
	if typ := c.ParamString("type"); typ != "" {
		q.Set("type", typ)
	}
	resp, err := c.HTTP.Get(ctx, "/v1/transactions", q)
	if err != nil {
		return err
	}
	var page struct {
		Data []map[string]any `json:"data"`
	}
	if err := resp.JSON(&page); err != nil {
		return fmt.Errorf("decode transactions: %w", err)
	}
	for _, tx := range page.Data {
		c.PushTriggerItem(app.TriggerItem{
			Raw:  tx,
			Meta: app.ItemMeta{InternalID: utils.Stringify(tx["id"])},
		})
	}
	return nil
}

func createTransaction(ctx context.Context, c *app.Context) error {
	date := c.ParamString("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	split := map[string]any{
		"type":        c.ParamString("type"),
		"date":        date,
		"amount":      c.ParamString("amount"),
		"description": c.ParamString("description"),
	}
	for param, field := range map[string]string{
		"sourceName":      "source_name",
		"destinationName": "destination_name",
		"categoryName":    "category_name",
	} {
		if v := c.ParamString(param); v != "" {
			split[field] = v
		}
	}
	resp, err := c.HTTP.Post(ctx, "/v1/transactions", map[string]any{
		"error_if_duplicate_hash": true,
		"apply_rules":             true,
		"transactions":            []any{split},
	})
	if err != nil {
		return err
	}
	var created struct {
		Data map[string]any `json:"data"`
	}
	if err := resp.JSON(&created); err != nil {
		return fmt.Errorf("decode created transaction: %w", err)
	}
	c.SetActionItem(created.Data)
	return nil
}
