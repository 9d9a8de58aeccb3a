package remedy

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Params are the only values a remediation template may interpolate.
// Commands are rendered from typed fields, never from raw match text, so a
// crafted error message cannot smuggle arbitrary shell into a command.
type Params struct {
	// Site is the validated site identifier.
	Site string
	// SitePath is the site's working directory on disk.
	SitePath string
	// ModuleName is the module extracted from the failure output, if the
	// pattern captures one.
	ModuleName string
	// Path is a file or directory path extracted from the failure output.
	Path string
}

// moduleNamePattern is deliberately conservative: extracted module names are
// interpolated into commands and anything outside this shape is rejected.
var moduleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateModuleName rejects extracted module names that are unsafe to
// interpolate into a command.
func ValidateModuleName(name string) error {
	if !moduleNamePattern.MatchString(name) {
		return fmt.Errorf("extracted module name %q is not a safe module identifier", name)
	}
	return nil
}

// pathPattern allows only absolute paths made of unremarkable path bytes.
// Extracted paths come from failure text, the same trust level as module
// names.
var pathPattern = regexp.MustCompile(`^/[A-Za-z0-9._/@+-]+$`)

// ValidatePath rejects extracted paths that are unsafe to interpolate into a
// command.
func ValidatePath(path string) error {
	if !pathPattern.MatchString(path) || strings.Contains(path, "..") {
		return fmt.Errorf("extracted path %q is not a safe absolute path", path)
	}
	return nil
}

// parseTemplate parses a command template with strict key handling: a
// placeholder that has no corresponding Params field fails at registration,
// not at apply time.
func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", text, err)
	}
	// Render against zero params to surface unknown field references early.
	if err := tmpl.Execute(&strings.Builder{}, Params{}); err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", text, err)
	}
	return tmpl, nil
}

// render executes a parsed template against the params.
func render(tmpl *template.Template, params Params) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, params); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
