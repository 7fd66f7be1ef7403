package model

import "fmt"

// Themes understood by the console.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Preferences is the persisted per-user UI configuration.
type Preferences struct {
	Theme    string         `json:"theme"    toml:"theme"`
	FontSize int            `json:"font_size" toml:"font_size"`
	Language string         `json:"language" toml:"language"`
	UIScale  float64        `json:"ui_scale" toml:"ui_scale"`
	Settings map[string]any `json:"settings,omitempty" toml:"settings,omitempty"`
}

// DefaultPreferences returns the preferences used when nothing is stored.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:    ThemeSystem,
		FontSize: 14,
		Language: "en",
		UIScale:  1.0,
	}
}

// Validate checks every field and returns a VALIDATION_ERROR listing all
// offending fields, or nil.
func (p Preferences) Validate() error {
	var details []FieldError
	switch p.Theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		details = append(details, FieldError{Field: "theme", Code: "INVALID", Message: fmt.Sprintf("unknown theme %q", p.Theme)})
	}
	if p.FontSize < 8 || p.FontSize > 32 {
		details = append(details, FieldError{Field: "font_size", Code: "OUT_OF_RANGE", Message: "font size must be between 8 and 32"})
	}
	if p.UIScale < 0.5 || p.UIScale > 3 {
		details = append(details, FieldError{Field: "ui_scale", Code: "OUT_OF_RANGE", Message: "ui scale must be between 0.5 and 3"})
	}
	if p.Language == "" {
		details = append(details, FieldError{Field: "language", Code: "REQUIRED", Message: "language is required"})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}
