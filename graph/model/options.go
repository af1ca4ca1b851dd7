package model

// Settings are the generation parameters shared by every provider adapter.
type Settings struct {
	// Temperature is nil when the provider default should be used.
	Temperature *float64
	// MaxTokens caps the response length; 0 uses the adapter default.
	MaxTokens int
	// BaseURL points the adapter at a compatible endpoint (Ollama, proxies).
	BaseURL string
}

// Option configures Settings.
type Option func(*Settings)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Settings) { s.Temperature = &t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(s *Settings) { s.MaxTokens = n }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(s *Settings) { s.BaseURL = url }
}

// ApplyOptions returns the Settings produced by opts.
func ApplyOptions(opts ...Option) Settings {
	var s Settings
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
