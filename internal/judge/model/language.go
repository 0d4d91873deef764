package model

// LanguageInfo describes a registered language to API clients.
type LanguageInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Compiled bool   `json:"compiled"`
}
