// Package dropbox integrates Dropbox folders and files.
package dropbox

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/auth"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/credentials"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/utils"
	"golang.org/x/oauth2"
)

const BaseURL = "https://api.dropboxapi.com"

// Endpoint is the Dropbox OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://www.dropbox.com/oauth2/authorize",
	TokenURL: "https://api.dropboxapi.com/oauth2/token",
}

func App() *app.App {
	return &app.App{
		Key:     "dropbox",
		Name:    "Dropbox",
		BaseURL: BaseURL,
		AuthFields: []app.Field{
			{Key: constants.FieldRedirectURL, Label: "OAuth redirect URL", Required: true},
			{Key: constants.FieldClientID, Label: "App key", Required: true},
			{Key: constants.FieldClientSecret, Label: "App secret", Required: true, Secret: true},
		},
		Auth: &auth.OAuth2AuthCode{
			Endpoint:    func(credentials.Data) oauth2.Endpoint { return Endpoint },
			Scopes:      []string{"account_info.read", "files.metadata.read", "files.content.write"},
			CurrentUser: CurrentUser,
			// offline access makes Dropbox issue a refresh token
			AuthCodeOptions: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("token_access_type", "offline")},
		},
		Triggers: []*app.Trigger{
			{
				Key:         "newFiles",
				Name:        "New files",
				Description: "Triggers when a file is added or changed in a folder.",
				Type:        app.TriggerPoll,
				Dedup:       app.TimestampCursor{Path: "server_modified"},
				Arguments: []app.Argument{
					{Key: "folder", Label: "Folder", Description: "Folder path, like /Receipts. Empty means the root.", Type: app.ArgString, Variables: true},
				},
				Handler: newFiles,
			},
		},
		Actions: []*app.Action{
			{
				Key:         "createFolder",
				Name:        "Create folder",
				Description: "Create a new folder with the given parent folder and folder name",
				Arguments: []app.Argument{
					{
						Key:         "parentFolder",
						Label:       "Folder",
						Description: "Enter the parent folder path, like /TextFiles/ or /Documents/Taxes/",
						Type:        app.ArgString,
						Required:    true,
						Variables:   true,
					},
					{
						Key:         "folderName",
						Label:       "Folder Name",
						Description: "Enter the name for the new folder",
						Type:        app.ArgString,
						Required:    true,
						Variables:   true,
					},
					{
						Key:         "autorename",
						Label:       "Auto Rename",
						Description: "Automatically rename the folder if there is a conflict",
						Type:        app.ArgDropdown,
						Default:     false,
						Options: []app.Option{
							{Label: "No", Value: false},
							{Label: "Yes", Value: true},
						},
					},
				},
				Handler: createFolder,
			},
		},
	}
}

// rpc calls a Dropbox RPC endpoint. Endpoints without arguments take a JSON null body.
func rpc(ctx context.Context, client *httpclient.Client, endpoint string, args any) (*httpclient.Response, error) {
	body := any([]byte("null"))
	if args != nil {
		body = args
	}
	return client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   endpoint,
		Header: http.Header{constants.HeaderContentType: []string{constants.ContentTypeJSON}},
		Body:   body,
	})
}

// CurrentUser fetches the connected account.
func CurrentUser(ctx context.Context, client *httpclient.Client) (*auth.Profile, error) {
	resp, err := rpc(ctx, client, "/2/users/get_current_account", nil)
	if err != nil {
		return nil, err
	}
	var account struct {
		AccountID string `json:"account_id"`
		Email     string `json:"email"`
		Name      struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
	}
	if err := resp.JSON(&account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &auth.Profile{
		ID:    account.AccountID,
		Name:  account.Email,
		Email: account.Email,
		Raw:   resp.Data(),
	}, nil
}

func createFolder(ctx context.Context, c *app.Context) error {
	folderPath := path.Join(c.ParamString("parentFolder"), c.ParamString("folderName"))
	autorename, _ := c.Param("autorename").(bool)
	if s, ok := c.Param("autorename").(string); ok {
		autorename = s == "true"
	}
	resp, err := rpc(ctx, c.HTTP, "/2/files/create_folder_v2", map[string]any{
		"path":       folderPath,
		"autorename": autorename,
	})
	if err != nil {
		return err
	}
	out, ok := utils.SafeMapAssert(resp.Data())
	if !ok {
		return fmt.Errorf("unexpected create_folder_v2 response: %s", resp.Body)
	}
	c.SetActionItem(out)
	return nil
}

func newFiles(ctx context.Context, c *app.Context) error {
	folder := c.ParamString("folder")
	if folder == "/" {
		folder = ""
	}
	resp, err := rpc(ctx, c.HTTP, "/2/files/list_folder", map[string]any{
		"path":      folder,
		"recursive": false,
		"limit":     100,
	})
	if err != nil {
		return err
	}
	var page struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := resp.JSON(&page); err != nil {
		return fmt.Errorf("decode list_folder: %w", err)
	}
	for _, e := range page.Entries {
		if e[".tag"] != "file" {
			continue
		}
		c.PushTriggerItem(app.TriggerItem{
			Raw:  e,
			Meta: app.ItemMeta{InternalID: utils.Stringify(e["id"]) + ":" + utils.Stringify(e["rev"])},
		})
	}
	return nil
}
