// Package classify implements the pure error-classification layer that
// maps a raw delivery failure to a diagnostic category.
package classify

import (
	"fmt"
	"strings"
)

// Category is the classifier's output category.
type Category int

const (
	AuthInvalid Category = iota
	AuthMissing
	EndpointGone
	RateLimited
	TargetError
	Unreachable
	Timeout
	AuthNotConfigured
	Unknown
)

// Diagnosis is the full classifier output.
type Diagnosis struct {
	Category    Category
	UserMessage string
	Guidance    string
	// RiskSummary is empty for RateLimited and TargetError, which are
	// understood to be transient and auto-recovered by retry.
	RiskSummary string
}

// Diagnose classifies a delivery failure. httpStatus of 0 means "no status
// available" (e.g. a network-level failure). Status-code categories take
// precedence over text-pattern matches.
func Diagnose(httpStatus int, errorText, sourceName, endpointName string) Diagnosis {
	switch httpStatus {
	case 401:
		return Diagnosis{
			Category:    AuthInvalid,
			UserMessage: fmt.Sprintf("Authentication rejected by %s", endpointName),
			Guidance: fmt.Sprintf(
				"Check the API key for %s. The current key may have expired or been revoked.", endpointName),
			RiskSummary: fmt.Sprintf("Your %s data is not reaching %s.", sourceName, endpointName),
		}
	case 403:
		return Diagnosis{
			Category:    AuthMissing,
			UserMessage: fmt.Sprintf("Not authorized to reach %s", endpointName),
			Guidance:    "This webhook requires authentication. Add an API key or auth header in the binding settings.",
			RiskSummary: fmt.Sprintf("Your %s data is not reaching %s.", sourceName, endpointName),
		}
	case 404:
		return Diagnosis{
			Category:    EndpointGone,
			UserMessage: fmt.Sprintf("%s no longer exists", endpointName),
			Guidance: fmt.Sprintf(
				"The webhook URL may have changed. Check the target configuration for %s.", sourceName),
			RiskSummary: fmt.Sprintf("Your %s data is being discarded.", sourceName),
		}
	case 429:
		return Diagnosis{
			Category:    RateLimited,
			UserMessage: "Target is rate-limiting requests",
			Guidance: fmt.Sprintf(
				"Too many requests to %s. relaydesk will retry with backoff. No action needed unless this persists.", endpointName),
		}
	}
	if httpStatus >= 500 && httpStatus <= 599 {
		return Diagnosis{
			Category:    TargetError,
			UserMessage: fmt.Sprintf("%s had an internal error", endpointName),
			Guidance: fmt.Sprintf(
				"The problem is on %s's side. relaydesk will retry automatically. If it persists, check %s's logs.",
				endpointName, endpointName),
		}
	}
	return classifyByText(errorText, sourceName, endpointName)
}

func classifyByText(errorText, sourceName, endpointName string) Diagnosis {
	lower := strings.ToLower(errorText)
	switch {
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset"):
		return Diagnosis{
			Category:    Unreachable,
			UserMessage: fmt.Sprintf("Can't reach %s", endpointName),
			Guidance: fmt.Sprintf(
				"Is %s running? Check the endpoint URL. relaydesk will keep retrying.", endpointName),
			RiskSummary: fmt.Sprintf("Your %s data is queued but cannot be delivered.", sourceName),
		}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return Diagnosis{
			Category:    Timeout,
			UserMessage: fmt.Sprintf("%s didn't respond in time", endpointName),
			Guidance:    "The request took too long. This could be a network issue or the target is overloaded. Will retry.",
			RiskSummary: fmt.Sprintf("Your %s data is not reaching %s.", sourceName, endpointName),
		}
	case strings.Contains(lower, "authorization") && strings.Contains(lower, "empty"):
		return Diagnosis{
			Category:    AuthNotConfigured,
			UserMessage: "Authentication not set up for this binding",
			Guidance:    "An Authorization header is configured but no credential was saved. Open the binding config and enter the API key.",
			RiskSummary: fmt.Sprintf("Your %s data is not reaching %s until authentication is configured.", sourceName, endpointName),
		}
	default:
		return Diagnosis{
			Category:    Unknown,
			UserMessage: fmt.Sprintf("Delivery to %s failed", endpointName),
			Guidance:    fmt.Sprintf("Unexpected error: %s. Check the network connection and target configuration.", errorText),
			RiskSummary: fmt.Sprintf("Your %s data is not reaching %s.", sourceName, endpointName),
		}
	}
}
