package tasks

import "github.com/rendis/pagepilot/internal/expressions"

// BuiltinConfig configures the builtin task catalog.
type BuiltinConfig struct {
	HTTP HTTPConfig
	JQ   *expressions.GoJQEngine
}

// Builtins returns the builtin task definitions.
func Builtins(cfg BuiltinConfig) []Definition {
	jq := cfg.JQ
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	return []Definition{
		launchBrowserTask(),
		navigateURLTask(),
		pageToHTMLTask(),
		extractTextTask(),
		fillInputTask(),
		clickElementTask(),
		waitForElementTask(),
		scrollToElementTask(),
		deliverViaWebhookTask(cfg.HTTP),
		readPropertyTask(jq),
		addPropertyTask(jq),
	}
}

// RegisterBuiltins registers all builtin tasks in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	for _, d := range Builtins(cfg) {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry loaded with the builtin catalog.
// It panics on a registration error.
func NewBuiltinRegistry(cfg BuiltinConfig) *Registry {
	reg := NewRegistry()
	reg.MustRegister(Builtins(cfg)...)
	return reg
}
