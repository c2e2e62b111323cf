package models

// Prompt is the assembled instruction set sent to a provider.
type Prompt struct {
	System    string
	User      string
	MaxOutput int
}

// RawCompletion is the untyped text a provider returned along with usage.
type RawCompletion struct {
	Text   string
	Tokens int
	Model  string
}
