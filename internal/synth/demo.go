package synth

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DemoField is one labeled input or result on the demo page.
type DemoField struct {
	Name    string
	Label   string
	Default any
}

type demoPage struct {
	Title   string
	Inputs  []DemoField
	Results []DemoField
	Script  template.JS
}

var demoTemplate = template.Must(template.New("demo").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <style>
    * { box-sizing: border-box; }
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; max-width: 500px; margin: 2rem auto; padding: 1rem; background: #f5f5f5; }
    h1 { color: #2d4a3e; margin-bottom: 1.5rem; }
    .field { margin-bottom: 1rem; }
    label { display: block; font-weight: 500; margin-bottom: 0.25rem; color: #333; }
    input { width: 100%; padding: 0.75rem; border: 1px solid #ddd; border-radius: 4px; font-size: 1rem; }
    .results { background: white; padding: 1.5rem; border-radius: 8px; margin-top: 1.5rem; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
    .result { display: flex; justify-content: space-between; padding: 0.75rem 0; border-bottom: 1px solid #eee; }
    .result:last-child { border-bottom: none; }
    .result .label { color: #666; }
    .result .value { font-weight: 600; color: #2d4a3e; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>

  <div class="inputs">
{{- range .Inputs}}
    <div class="field">
      <label for="{{.Name}}">{{.Label}}</label>
      <input type="number" id="{{.Name}}" value="{{.Default}}" oninput="updateResults()">
    </div>
{{- end}}
  </div>

  <div class="results">
{{- range .Results}}
    <div class="result">
      <span class="label">{{.Label}}</span>
      <span class="value" id="result_{{.Name}}">0</span>
    </div>
{{- end}}
  </div>

  <script>
{{.Script}}

function readInput(id) {
  return parseFloat(document.getElementById(id).value) || 0;
}

function formatValue(v) {
  return typeof v === "number" ? v.toFixed(2) : String(v);
}

function updateResults() {
  const results = calculate({
{{- range .Inputs}}
    {{.Name}}: readInput({{.Name}}),
{{- end}}
  });
{{- range .Results}}
  document.getElementById("result_" + {{.Name}}).textContent = formatValue(results[{{.Name}}]);
{{- end}}
}

updateResults();
  </script>
</body>
</html>
`))

// Label turns a variable name into a display label.
func Label(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// Demo renders a self-contained HTML page that runs the javascript module
// in the browser, with one numeric field per input and one line per computed
// value.
func Demo(ctx context.Context, in *Input, title string) (string, *Module, error) {
	js, err := NewJavaScript(JSOptions{Module: "none"})
	if err != nil {
		return "", nil, err
	}
	mod, err := js.Generate(ctx, in)
	if err != nil {
		return "", nil, err
	}
	if title == "" {
		title = "Calculator"
	}
	page := demoPage{Title: title, Script: template.JS(mod.Source)}
	for _, p := range mod.Inputs {
		page.Inputs = append(page.Inputs, DemoField{Name: p.Name, Label: Label(p.Name), Default: p.Default})
	}
	for _, name := range mod.Outputs[len(mod.Inputs):] {
		page.Results = append(page.Results, DemoField{Name: name, Label: Label(name)})
	}
	var buf bytes.Buffer
	if err := demoTemplate.Execute(&buf, page); err != nil {
		return "", nil, fmt.Errorf("synth: render demo: %w", err)
	}
	return buf.String(), mod, nil
}
