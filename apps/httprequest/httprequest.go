// Package httprequest sends a custom HTTP request as a flow step.
package httprequest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/httpclient"
	"github.com/awantoch/flowhook/utils"
)

func App() *app.App {
	return &app.App{
		Key:  "http-request",
		Name: "HTTP Request",
		Actions: []*app.Action{
			{
				Key:         "customRequest",
				Name:        "Custom request",
				Description: "Sends an HTTP request and returns the response.",
				Arguments: []app.Argument{
					{
						Key:     "method",
						Label:   "Method",
						Type:    app.ArgDropdown,
						Default: http.MethodPost,
						Options: []app.Option{
							{Label: "GET", Value: http.MethodGet},
							{Label: "POST", Value: http.MethodPost},
							{Label: "PUT", Value: http.MethodPut},
							{Label: "PATCH", Value: http.MethodPatch},
							{Label: "DELETE", Value: http.MethodDelete},
						},
					},
					{Key: "url", Label: "URL", Type: app.ArgString, Required: true, Variables: true},
					{Key: "headers", Label: "Headers", Type: app.ArgObject, Variables: true},
					{Key: "query", Label: "Query parameters", Type: app.ArgObject, Variables: true},
					{
						Key:         "data",
						Label:       "Body",
						Description: "Objects and lists are sent as JSON, strings as they are.",
						Type:        app.ArgObject,
						Variables:   true,
					},
				},
				Handler: customRequest,
			},
		},
	}
}

func customRequest(ctx context.Context, c *app.Context) error {
	target := c.ParamString("url")
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return fmt.Errorf("url must be absolute http(s), got %q", target)
	}
	req := httpclient.Request{
		Method: strings.ToUpper(c.ParamString("method")),
		Path:   target,
		Body:   c.Param("data"),
		Header: http.Header{},
		Query:  url.Values{},
	}
	if h, ok := utils.SafeMapAssert(c.Param("headers")); ok {
		for k, v := range h {
			req.Header.Set(k, utils.Stringify(v))
		}
	}
	if q, ok := utils.SafeMapAssert(c.Param("query")); ok {
		for k, v := range q {
			req.Query.Set(k, utils.Stringify(v))
		}
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	headers := map[string]any{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	c.SetActionItem(map[string]any{
		"status":  resp.Status,
		"headers": headers,
		"data":    resp.Data(),
	})
	return nil
}
