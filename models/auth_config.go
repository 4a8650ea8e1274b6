package models

// AuthConfig is the client-side identity configuration served at /auth_config.json.
// It is loaded once and never mutated afterwards.
type AuthConfig struct {
	Domain      string `json:"domain" validate:"required"`
	ClientID    string `json:"clientId" validate:"required"`
	Audience    string `json:"audience" validate:"required"`
	APIEndpoint string `json:"api_endpoint" validate:"required,url"`
}

// DemoEnvelope is the proxy-integration response returned by the demo backend.
// Body carries a JSON-encoded DemoMessage.
type DemoEnvelope struct {
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// DemoMessage is the payload nested inside DemoEnvelope.Body
type DemoMessage struct {
	Message string `json:"message"`
}
