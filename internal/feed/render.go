package feed

import (
	"bytes"
	_ "embed"
	"html/template"
	"io"
)

//go:embed templates/widget.html
var widgetSource string

var widgetTemplate = template.Must(template.New("widget").Parse(widgetSource))

// RenderWidget writes the HTML widget for d. Content is escaped by the template.
func RenderWidget(w io.Writer, d Discussions) error {
	return widgetTemplate.Execute(w, d)
}

// WidgetHTML renders the widget into memory.
func WidgetHTML(d Discussions) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderWidget(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
