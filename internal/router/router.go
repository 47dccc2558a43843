// Package router implements RouteResolver, the pure function that decides
// which targets a ledger entry should be dispatched to and resolves their
// auth headers.
package router

import (
	"context"
	"log"

	"github.com/itskum47/relaydesk/internal/bindings"
	"github.com/itskum47/relaydesk/internal/credentialstore"
)

// Destination is one resolved dispatch target.
type Destination struct {
	TargetID string
	URL      string
	Headers  []bindings.Header // resolved auth headers, nil means no auth
}

// LegacyConfig is the fallback global webhook, read from the pre-binding
// "webhook_url"/"webhook_auth_json" config keys.
type LegacyConfig struct {
	WebhookURL      string
	WebhookAuthJSON string
}

// BindingLookup is the subset of bindings.Store RouteResolver needs,
// narrowed to keep RouteResolver's dependency surface a pure interface.
type BindingLookup interface {
	GetForSource(ctx context.Context, sourceID string) ([]bindings.Binding, error)
}

// Resolve implements spec's RouteResolver algorithm: targeted binding,
// else on_change fan-out, else legacy global webhook, else empty.
func Resolve(
	ctx context.Context,
	sourceID string,
	targetEndpointID string,
	bindingStore BindingLookup,
	legacy *LegacyConfig,
	credentials credentialstore.Store,
) []Destination {
	all, err := bindingStore.GetForSource(ctx, sourceID)
	if err != nil {
		log.Printf("[router] failed to load bindings for %s: %v", sourceID, err)
		all = nil
	}

	if targetEndpointID != "" {
		for _, b := range all {
			if b.EndpointID == targetEndpointID {
				return []Destination{resolveOne(ctx, b, credentials)}
			}
		}
		log.Printf("[router] no active binding found for %s/%s", sourceID, targetEndpointID)
		return nil
	}

	var onChange []bindings.Binding
	for _, b := range all {
		if b.DeliveryMode == bindings.OnChange {
			onChange = append(onChange, b)
		}
	}
	if len(onChange) > 0 {
		out := make([]Destination, 0, len(onChange))
		for _, b := range onChange {
			out = append(out, resolveOne(ctx, b, credentials))
		}
		return out
	}

	if legacy != nil && legacy.WebhookURL != "" {
		return []Destination{{TargetID: "legacy", URL: legacy.WebhookURL, Headers: resolveLegacyAuth(ctx, legacy, credentials)}}
	}

	return nil
}

func resolveOne(ctx context.Context, b bindings.Binding, credentials credentialstore.Store) Destination {
	headers, err := b.Headers()
	if err != nil {
		log.Printf("[router] failed to parse headers_json for %s/%s: %v", b.SourceID, b.EndpointID, err)
		return Destination{TargetID: b.TargetID, URL: b.EndpointURL, Headers: nil}
	}
	if len(headers) == 0 {
		return Destination{TargetID: b.TargetID, URL: b.EndpointURL, Headers: nil}
	}

	if b.AuthCredentialKey != nil && *b.AuthCredentialKey != "" {
		secret, err := credentials.Retrieve(ctx, *b.AuthCredentialKey)
		if err != nil {
			log.Printf("[router] failed to retrieve credential %q for %s/%s: %v — keeping placeholder",
				*b.AuthCredentialKey, b.SourceID, b.EndpointID, err)
		} else {
			for i := range headers {
				if headers[i].Value == "" {
					headers[i].Value = secret
					break
				}
			}
		}
	}

	return Destination{TargetID: b.TargetID, URL: b.EndpointURL, Headers: headers}
}

func resolveLegacyAuth(ctx context.Context, legacy *LegacyConfig, credentials credentialstore.Store) []bindings.Header {
	if legacy.WebhookAuthJSON == "" {
		return nil
	}
	b := bindings.Binding{HeadersJSON: &legacy.WebhookAuthJSON}
	headers, err := b.Headers()
	if err != nil {
		log.Printf("[router] failed to parse legacy webhook_auth_json: %v", err)
		return nil
	}
	return headers
}
