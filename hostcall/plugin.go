package hostcall

import (
	"context"
	"encoding/json"
	"net/http"

	agentrt "github.com/tonagent/runtime"
)

// pluginConfig is the shape a marketplace plugin's config column must parse
// as to be callable. Plugins are thin HTTP integrations — installing one
// just records an endpoint and static headers; there is no separate plugin
// runtime.
type pluginConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// CallPlugin invokes an installed plugin with payload as the request body.
// Returns ErrNotInstalled if the owner has not installed pluginID.
func (s *Surface) CallPlugin(ctx context.Context, pluginID, payload string) (FetchResponse, error) {
	installed, err := s.settings.IsInstalled(s.OwnerID, pluginID)
	if err != nil {
		return FetchResponse{}, agentrt.WrapIntegration(err, "call_plugin: lookup failed")
	}
	if !installed {
		return FetchResponse{}, agentrt.WrapValidation(agentrt.ErrNotInstalled, "call_plugin: "+pluginID)
	}

	plugins, err := s.settings.ListPlugins(s.OwnerID)
	if err != nil {
		return FetchResponse{}, agentrt.WrapIntegration(err, "call_plugin: list failed")
	}
	var cfg pluginConfig
	for _, p := range plugins {
		if p.PluginID != pluginID {
			continue
		}
		if err := json.Unmarshal([]byte(p.Config), &cfg); err != nil {
			return FetchResponse{}, agentrt.WrapIntegration(err, "call_plugin: malformed plugin config")
		}
		break
	}
	if cfg.URL == "" {
		return FetchResponse{}, agentrt.WrapIntegration(nil, "call_plugin: plugin has no endpoint configured")
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	return s.Fetch(ctx, FetchRequest{
		Method:  method,
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Body:    payload,
	})
}
