package templates

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed *.html
var FS embed.FS

var funcs = template.FuncMap{
	"lower": strings.ToLower,
	// deg shows a site coordinate without float noise.
	"deg": func(v float64) string { return fmt.Sprintf("%.6f", v) },
}

// LoadTemplates parses the server and device setup pages.
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(FS, "*.html")
}
