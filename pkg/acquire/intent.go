// Package acquire selects and invokes data-acquisition strategies to
// populate a site's working dataset, and runs the post-acquisition
// sanitization pipeline.
//
// The Auto intent resolves through a fixed priority order: fresh sanitized
// snapshot, fresh unsanitized snapshot (sanitized in place), live production
// extraction, sibling-environment clone. Each concrete strategy is also
// independently invocable for explicit operator choice.
package acquire

import (
	"fmt"
	"strings"
)

// IntentKind tags an acquisition intent variant.
type IntentKind string

const (
	IntentAuto        IntentKind = "auto"
	IntentProduction  IntentKind = "production"
	IntentDevelopment IntentKind = "development"
	IntentBackup      IntentKind = "backup"
	IntentURL         IntentKind = "url"
)

// Intent is a parsed acquisition intent. Path carries the backup file path
// or download URL for the backup: and url: variants.
type Intent struct {
	Kind IntentKind
	Path string
}

// ParseIntent parses an operator-supplied source descriptor:
// "auto", "production", "development", "backup:<path>", or "url:<url>".
func ParseIntent(raw string) (Intent, error) {
	switch {
	case raw == "" || raw == string(IntentAuto):
		return Intent{Kind: IntentAuto}, nil
	case raw == string(IntentProduction):
		return Intent{Kind: IntentProduction}, nil
	case raw == string(IntentDevelopment):
		return Intent{Kind: IntentDevelopment}, nil
	case strings.HasPrefix(raw, "backup:"):
		path := strings.TrimPrefix(raw, "backup:")
		if path == "" {
			return Intent{}, fmt.Errorf("backup: intent requires a path")
		}
		return Intent{Kind: IntentBackup, Path: path}, nil
	case strings.HasPrefix(raw, "url:"):
		u := strings.TrimPrefix(raw, "url:")
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return Intent{}, fmt.Errorf("url: intent requires an http(s) URL, got %q", u)
		}
		return Intent{Kind: IntentURL, Path: u}, nil
	default:
		return Intent{}, fmt.Errorf("unknown acquisition source %q", raw)
	}
}

// String renders the intent back to its descriptor form.
func (i Intent) String() string {
	switch i.Kind {
	case IntentBackup, IntentURL:
		return string(i.Kind) + ":" + i.Path
	default:
		return string(i.Kind)
	}
}
