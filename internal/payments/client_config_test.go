package payments

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewGatewayDefaults(t *testing.T) {
	t.Parallel()

	defaults, err := NewGatewayDefaults("", "test_key", "us", "usd")
	if err != nil {
		t.Fatalf("NewGatewayDefaults returned error: %v", err)
	}
	if defaults.CountryCode != "US" || defaults.Currency != "USD" || defaults.Environment != "test" {
		t.Fatalf("unexpected defaults %#v", defaults)
	}

	if _, err := NewGatewayDefaults("test", "k", "ZZZ", "USD"); !errors.Is(err, ErrInvalidGatewayDefaults) {
		t.Fatalf("expected invalid country error, got %v", err)
	}
	if _, err := NewGatewayDefaults("test", "k", "US", "DOLLARS"); !errors.Is(err, ErrInvalidGatewayDefaults) {
		t.Fatalf("expected invalid currency error, got %v", err)
	}
}

func TestExtractClientConfig(t *testing.T) {
	t.Parallel()

	inner, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"adyen_env":           "live",
			"adyen_client_key":    "live_key",
			"adyen_showpaybutton": true,
			"device_fingerprint":  "fp-1",
		},
	})
	body := map[string]any{
		"return": []any{
			map[string]any{
				"method": ClientConfigMethod,
				"values": []any{map[string]any{"name": "result", "value": string(inner)}},
			},
		},
	}

	raw, err := ExtractClientConfig(body)
	if err != nil {
		t.Fatalf("ExtractClientConfig returned error: %v", err)
	}

	defaults := GatewayDefaults{Environment: "test", ClientKey: "test_key", CountryCode: "US", Currency: "USD"}
	cfg := defaults.FromGateway(raw)
	if cfg.Environment != "live" || cfg.ClientKey != "live_key" {
		t.Fatalf("expected gateway values, got %#v", cfg)
	}
	if cfg.CountryCode != "US" || cfg.Currency != "USD" {
		t.Fatalf("expected defaults for country and currency, got %#v", cfg)
	}
	if cfg.ShowPayButton != true || cfg.HostedFieldUps != false || cfg.DeviceFingerprint != "fp-1" {
		t.Fatalf("unexpected optional fields %#v", cfg)
	}
	if cfg.RawConfig["adyen_env"] != "live" {
		t.Fatalf("expected raw config passthrough")
	}
}

func TestExtractClientConfigRejectsUnexpectedShapes(t *testing.T) {
	t.Parallel()

	cases := []any{
		"text",
		map[string]any{},
		map[string]any{"return": []any{map[string]any{"method": "other"}}},
		map[string]any{"return": []any{map[string]any{"method": ClientConfigMethod, "values": []any{map[string]any{"name": "result", "value": "{not json"}}}}},
		map[string]any{"return": []any{map[string]any{"method": ClientConfigMethod, "values": []any{map[string]any{"name": "result", "value": `{"config":{}}`}}}}},
	}
	for i, body := range cases {
		if _, err := ExtractClientConfig(body); !errors.Is(err, ErrClientConfigMissing) {
			t.Fatalf("case %d: expected ErrClientConfigMissing, got %v", i, err)
		}
	}
}
