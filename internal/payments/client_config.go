package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// ClientConfigMethod is the backend method returning the drop-in configuration.
const ClientConfigMethod = "getPaymentClientConfig"

var (
	// ErrClientConfigMissing is returned when a backend response carries no usable config.
	ErrClientConfigMissing = errors.New("payments: client config missing from response")
	// ErrInvalidGatewayDefaults is returned for a bad fallback country or currency.
	ErrInvalidGatewayDefaults = errors.New("payments: invalid gateway defaults")
)

// GatewayDefaults are the values handed to the browser when the backend cannot supply a config.
type GatewayDefaults struct {
	Environment string
	ClientKey   string
	CountryCode string
	Currency    string
}

// NewGatewayDefaults validates and canonicalises the fallback values. Country must be an ISO
// 3166 country and currency an ISO 4217 code.
func NewGatewayDefaults(environment, clientKey, countryCode, currencyCode string) (GatewayDefaults, error) {
	region, err := language.ParseRegion(strings.TrimSpace(countryCode))
	if err != nil || !region.IsCountry() {
		return GatewayDefaults{}, fmt.Errorf("%w: country %q", ErrInvalidGatewayDefaults, countryCode)
	}
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		return GatewayDefaults{}, fmt.Errorf("%w: currency %q", ErrInvalidGatewayDefaults, currencyCode)
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = "test"
	}
	return GatewayDefaults{
		Environment: environment,
		ClientKey:   strings.TrimSpace(clientKey),
		CountryCode: region.String(),
		Currency:    unit.String(),
	}, nil
}

// ClientConfig is the configuration the browser uses to mount the gateway widget.
type ClientConfig struct {
	Environment       string         `json:"environment"`
	ClientKey         string         `json:"clientKey"`
	CountryCode       string         `json:"countryCode"`
	Currency          string         `json:"currency"`
	ShowPayButton     any            `json:"showPayButton,omitempty"`
	HostedFieldUps    any            `json:"hostedFieldUps,omitempty"`
	HostedPageUps     any            `json:"hostedPageUps,omitempty"`
	PhoneServiceUps   any            `json:"phoneServiceUps,omitempty"`
	AdyenGatewayType  any            `json:"adyenGatewayType,omitempty"`
	DeviceFingerprint any            `json:"deviceFingerprint,omitempty"`
	RawConfig         map[string]any `json:"rawConfig,omitempty"`
	Fallback          bool           `json:"fallback,omitempty"`
}

// Fallback returns the default configuration.
func (d GatewayDefaults) Fallback() ClientConfig {
	return ClientConfig{
		Environment: d.Environment,
		ClientKey:   d.ClientKey,
		CountryCode: d.CountryCode,
		Currency:    d.Currency,
	}
}

// FromGateway maps the gateway's own config onto the browser config. Country and currency are
// not part of the gateway config and always come from the defaults.
func (d GatewayDefaults) FromGateway(raw map[string]any) ClientConfig {
	cfg := d.Fallback()
	if env, ok := raw["adyen_env"].(string); ok && env != "" {
		cfg.Environment = env
	}
	if key, ok := raw["adyen_client_key"].(string); ok && key != "" {
		cfg.ClientKey = key
	}
	cfg.ShowPayButton = valueOr(raw["adyen_showpaybutton"], false)
	cfg.HostedFieldUps = valueOr(raw["hosted_field_ups"], false)
	cfg.HostedPageUps = valueOr(raw["hosted_page_ups"], false)
	cfg.PhoneServiceUps = valueOr(raw["phone_service_ups"], false)
	cfg.AdyenGatewayType = valueOr(raw["adyen_gateway_type"], false)
	cfg.DeviceFingerprint = raw["device_fingerprint"]
	cfg.RawConfig = raw
	return cfg
}

// ExtractClientConfig finds the gateway config inside a getPaymentClientConfig response:
// return[0] must name the method and carry a "result" value holding JSON with a config object.
func ExtractClientConfig(body any) (map[string]any, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, ErrClientConfigMissing
	}
	returns, ok := obj["return"].([]any)
	if !ok || len(returns) == 0 {
		return nil, ErrClientConfigMissing
	}
	first, ok := returns[0].(map[string]any)
	if !ok || first["method"] != ClientConfigMethod {
		return nil, ErrClientConfigMissing
	}
	values, ok := first["values"].([]any)
	if !ok || len(values) == 0 {
		return nil, ErrClientConfigMissing
	}
	result, ok := values[0].(map[string]any)
	if !ok || result["name"] != "result" {
		return nil, ErrClientConfigMissing
	}
	encoded, ok := result["value"].(string)
	if !ok {
		return nil, ErrClientConfigMissing
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(encoded), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientConfigMissing, err)
	}
	config, ok := parsed["config"].(map[string]any)
	if !ok || len(config) == 0 {
		return nil, ErrClientConfigMissing
	}
	return config, nil
}

func valueOr(value any, fallback any) any {
	switch v := value.(type) {
	case nil:
		return fallback
	case bool:
		if !v {
			return fallback
		}
	case string:
		if v == "" {
			return fallback
		}
	case float64:
		if v == 0 {
			return fallback
		}
	}
	return value
}
