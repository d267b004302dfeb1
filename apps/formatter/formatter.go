// Package formatter transforms text between steps.
package formatter

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/utils"
	pongo2 "github.com/flosch/pongo2/v6"
)

func App() *app.App {
	return &app.App{
		Key:  "formatter",
		Name: "Formatter",
		Actions: []*app.Action{
			{
				Key:         "renderTemplate",
				Name:        "Render template",
				Description: "Renders a Jinja-style template against the given data.",
				Arguments: []app.Argument{
					{
						Key:         "template",
						Label:       "Template",
						Description: "pongo2 template, for example: Paid {{ amount|floatformat:2 }} to {{ payee }}",
						Type:        app.ArgString,
						Required:    true,
					},
					{
						Key:         "data",
						Label:       "Data",
						Description: "Values available to the template. Step references are substituted first.",
						Type:        app.ArgObject,
						Variables:   true,
					},
				},
				Handler: renderTemplate,
			},
			{
				Key:  "transformText",
				Name: "Transform text",
				Arguments: []app.Argument{
					{Key: "input", Label: "Input", Type: app.ArgString, Required: true, Variables: true},
					{
						Key:      "transform",
						Label:    "Transform",
						Type:     app.ArgDropdown,
						Required: true,
						Options: []app.Option{
							{Label: "Uppercase", Value: "uppercase"},
							{Label: "Lowercase", Value: "lowercase"},
							{Label: "Capitalize", Value: "capitalize"},
							{Label: "Trim whitespace", Value: "trim"},
							{Label: "Replace", Value: "replace"},
						},
					},
					{Key: "find", Label: "Find", Type: app.ArgString, Variables: true},
					{Key: "replace", Label: "Replace with", Type: app.ArgString, Variables: true},
				},
				Handler: transformText,
			},
		},
	}
}

// Render executes tmpl with data as the template context.
func Render(tmpl string, data map[string]any) (string, error) {
	tpl, err := pongo2.FromString(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	pctx := make(pongo2.Context, len(data))
	maps.Copy(pctx, data)
	out, err := tpl.Execute(pctx)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func renderTemplate(ctx context.Context, c *app.Context) error {
	data, _ := utils.SafeMapAssert(c.Param("data"))
	out, err := Render(c.ParamString("template"), data)
	if err != nil {
		return err
	}
	c.SetActionItem(map[string]any{"output": out})
	return nil
}

func transformText(ctx context.Context, c *app.Context) error {
	in := c.ParamString("input")
	var out string
	switch op := c.ParamString("transform"); op {
	case "uppercase":
		out = strings.ToUpper(in)
	case "lowercase":
		out = strings.ToLower(in)
	case "capitalize":
		words := strings.Fields(in)
		for i, w := range words {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
		out = strings.Join(words, " ")
	case "trim":
		out = strings.TrimSpace(in)
	case "replace":
		out = strings.ReplaceAll(in, c.ParamString("find"), c.ParamString("replace"))
	default:
		return fmt.Errorf("unknown transform %q", op)
	}
	c.SetActionItem(map[string]any{"output": out})
	return nil
}
