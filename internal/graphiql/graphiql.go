package graphiql

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"text/template"
)

const codeMirrorVersion = "5.53.2"

// Websocket client bundles selectable for live subscriptions.
const (
	WebsocketClientLegacy = "v0"
	WebsocketClientModern = "v1"
)

// Options customise the rendered page.
type Options struct {
	DefaultQuery         string
	HeaderEditorEnabled  bool
	ShouldPersistHeaders bool

	// SubscriptionEndpoint enables the websocket fetcher when set.
	SubscriptionEndpoint string
	WebsocketClient      string

	// EditorTheme is a CodeMirror theme name, an EditorTheme, or a map
	// with "name" and "url" keys.
	EditorTheme interface{}
}

// EditorTheme points at a custom CodeMirror theme stylesheet.
type EditorTheme struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Data is what the page is pre-filled with.
type Data struct {
	Query         *string
	Variables     map[string]interface{}
	OperationName *string
	Result        interface{}
}

type themeParams struct {
	name string
	link string
}

// SafeSerialize JSON-encodes v for embedding inside a script element.
// Forward slashes are escaped so that no literal can close the element.
// A nil value renders as undefined.
func SafeSerialize(v interface{}) string {
	if v == nil {
		return "undefined"
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "undefined"
	}
	return strings.ReplaceAll(string(encoded), "/", `\/`)
}

func editorThemeParams(theme interface{}) (*themeParams, error) {
	switch t := theme.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return &themeParams{
			name: t,
			link: fmt.Sprintf(`<link href="https://cdnjs.cloudflare.com/ajax/libs/codemirror/%s/theme/%s.css" rel="stylesheet" />`, codeMirrorVersion, html.EscapeString(t)),
		}, nil
	case EditorTheme:
		return customTheme(t.Name, t.URL, theme)
	case *EditorTheme:
		if t == nil {
			return nil, nil
		}
		return customTheme(t.Name, t.URL, theme)
	case map[string]interface{}:
		name, _ := t["name"].(string)
		url, _ := t["url"].(string)
		return customTheme(name, url, theme)
	}
	return nil, invalidTheme(theme)
}

func customTheme(name, url string, raw interface{}) (*themeParams, error) {
	if name == "" || url == "" {
		return nil, invalidTheme(raw)
	}
	return &themeParams{
		name: name,
		link: fmt.Sprintf(`<link href="%s" rel="stylesheet" />`, html.EscapeString(url)),
	}, nil
}

func invalidTheme(raw interface{}) error {
	provided, err := json.Marshal(raw)
	if err != nil {
		provided = []byte(fmt.Sprintf("%v", raw))
	}
	return fmt.Errorf(`invalid parameter "editorTheme": should be undefined/null, string or {name: string, url: string} but provided is "%s"`, provided)
}

type page struct {
	ThemeLink           string
	SubscriptionScripts string
	HasSubscriptions    bool
	ModernClient        bool

	SubscriptionEndpoint string
	EditorTheme          string
	Query                string
	Response             string
	Variables            string
	OperationName        string
	DefaultQuery         string
	HeaderEditorEnabled  string
	ShouldPersistHeaders string
}

// Render produces the GraphiQL document for data. It is a pure function
// of its inputs.
func Render(data Data, opts *Options) (string, error) {
	if opts == nil {
		opts = &Options{}
	}

	theme, err := editorThemeParams(opts.EditorTheme)
	if err != nil {
		return "", err
	}

	client := opts.WebsocketClient
	if client == "" {
		client = WebsocketClientLegacy
	}

	p := page{
		HasSubscriptions:     opts.SubscriptionEndpoint != "",
		ModernClient:         client == WebsocketClientModern,
		SubscriptionEndpoint: SafeSerialize(nonEmpty(opts.SubscriptionEndpoint)),
		EditorTheme:          "undefined",
		Query:                SafeSerialize(stringOrNil(data.Query)),
		Response:             SafeSerialize(indented(data.Result)),
		Variables:            SafeSerialize(indented(data.Variables)),
		OperationName:        SafeSerialize(stringOrNil(data.OperationName)),
		DefaultQuery:         SafeSerialize(nonEmpty(opts.DefaultQuery)),
		HeaderEditorEnabled:  SafeSerialize(opts.HeaderEditorEnabled),
		ShouldPersistHeaders: SafeSerialize(opts.ShouldPersistHeaders),
	}
	if theme != nil {
		p.ThemeLink = theme.link
		p.EditorTheme = SafeSerialize(theme.name)
	}
	if p.HasSubscriptions {
		if p.ModernClient {
			p.SubscriptionScripts = modernClientScripts
		} else {
			p.SubscriptionScripts = legacyClientScripts
		}
	}

	var out strings.Builder
	if err := pageTemplate.Execute(&out, p); err != nil {
		return "", fmt.Errorf("failed to render GraphiQL: %w", err)
	}
	return out.String(), nil
}

func stringOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nonEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// indented pretty-prints v as the editors expect a JSON string.
func indented(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		if t == nil {
			return nil
		}
	}
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil
	}
	return string(encoded)
}

var pageTemplate = template.Must(template.New("graphiql").Parse(pageHTML))
