package templates

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/a-h/templ"
)

// Render takes a templ.Component and renders it to a string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Preview renders a local stand-in for a provider-hosted template: the template
// alias, the recipient and the model as a key/value table sorted by key.
func Preview(template, to string, model map[string]any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
		b.WriteString(templ.EscapeString(template))
		b.WriteString("</title></head><body><h1>")
		b.WriteString(templ.EscapeString(template))
		b.WriteString("</h1><p>To: ")
		b.WriteString(templ.EscapeString(to))
		b.WriteString("</p><table>")
		for _, key := range slices.Sorted(maps.Keys(model)) {
			b.WriteString("<tr><th>")
			b.WriteString(templ.EscapeString(key))
			b.WriteString("</th><td>")
			b.WriteString(templ.EscapeString(fmt.Sprint(model[key])))
			b.WriteString("</td></tr>")
		}
		b.WriteString("</table></body></html>")

		_, err := io.WriteString(w, b.String())
		return err
	})
}
