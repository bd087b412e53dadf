// Package webhook contains the domain logic for authenticating inbound
// payment-provider webhooks: per-provider signature verification, replay
// protection, and source-IP allowlisting.
package webhook

import (
	"errors"
	"time"
)

// Provider identifies a payment provider sending webhooks.
type Provider string

const (
	// ProviderYooKassa signs with HMAC-SHA256 over "event&objectID&secret".
	ProviderYooKassa Provider = "yookassa"
	// ProviderCryptoPay signs the canonical JSON body and carries a
	// replay-protected timestamp field.
	ProviderCryptoPay Provider = "cryptopay"
	// ProviderFreeKassa signs with MD5 over colon-joined order fields.
	ProviderFreeKassa Provider = "freekassa"
	// ProviderTribute signs the canonical JSON body.
	ProviderTribute Provider = "tribute"
	// ProviderStars presents a shared secret token instead of a MAC.
	ProviderStars Provider = "stars"
	// ProviderPanel signs the canonical JSON body and carries a
	// replay-protected timestamp field.
	ProviderPanel Provider = "panel"
)

// IsValid returns true if the provider is known.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderYooKassa, ProviderCryptoPay, ProviderFreeKassa,
		ProviderTribute, ProviderStars, ProviderPanel:
		return true
	default:
		return false
	}
}

// Scheme identifies a signature verification recipe. The set is closed;
// dispatch happens over a fixed table so an unhandled scheme is a
// construction-time error, not a silent pass.
type Scheme string

const (
	// SchemeEventObject computes HMAC-SHA256 over "event&objectID&secret".
	SchemeEventObject Scheme = "event-object"
	// SchemeCanonicalJSON computes HMAC-SHA256 over the canonical JSON body.
	SchemeCanonicalJSON Scheme = "canonical-json"
	// SchemeFieldConcat computes MD5 over "merchant:amount:secret:order".
	// Legacy recipe kept for provider compatibility.
	SchemeFieldConcat Scheme = "field-concat"
	// SchemeSharedToken compares the header against the secret directly.
	SchemeSharedToken Scheme = "shared-token"
	// SchemeCanonicalJSONReplay is SchemeCanonicalJSON plus a replay
	// window check on the payload's timestamp field.
	SchemeCanonicalJSONReplay Scheme = "canonical-json-replay"
)

// DefaultReplayWindow bounds the accepted clock skew for providers that
// carry a timestamp field.
const DefaultReplayWindow = 300 * time.Second

// Credential is the immutable per-provider verification configuration.
// Loaded once at startup; secret rotation requires a restart.
type Credential struct {
	// Provider this credential belongs to.
	Provider Provider
	// Secret is the shared signing secret.
	Secret string
	// Header is the HTTP header carrying the signature.
	Header string
	// Scheme selects the verification recipe.
	Scheme Scheme
	// ReplayWindow bounds timestamp skew for replay-checked schemes.
	ReplayWindow time.Duration
}

// Verification failure taxonomy. All are terminal for the request; none
// are retried.
var (
	// ErrUnknownProvider means the provider identifier is not configured.
	ErrUnknownProvider = errors.New("unknown webhook provider")
	// ErrMissingSecret means no secret is configured for the provider.
	// Treated as a hard validation failure, never a silent pass.
	ErrMissingSecret = errors.New("webhook secret not configured")
	// ErrMalformedPayload means the body could not be parsed or lacks
	// the fields the scheme signs over.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrMissingSignature means the signature header was absent or empty.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrSignatureMismatch means the computed MAC did not match.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	// ErrReplayDetected means the payload timestamp fell outside the
	// replay window. Distinguished from ErrSignatureMismatch for
	// observability.
	ErrReplayDetected = errors.New("webhook replay detected")
)

// defaultHeaders maps each provider to the header its signature arrives in.
var defaultHeaders = map[Provider]string{
	ProviderYooKassa:  "X-YooKassa-Signature",
	ProviderCryptoPay: "Crypto-Pay-Api-Signature",
	ProviderFreeKassa: "SIGN",
	ProviderTribute:   "X-Tribute-Signature",
	ProviderStars:     "X-Telegram-Bot-Api-Secret-Token",
	ProviderPanel:     "X-Panel-Signature",
}

// defaultSchemes maps each provider to its verification recipe.
var defaultSchemes = map[Provider]Scheme{
	ProviderYooKassa:  SchemeEventObject,
	ProviderCryptoPay: SchemeCanonicalJSONReplay,
	ProviderFreeKassa: SchemeFieldConcat,
	ProviderTribute:   SchemeCanonicalJSON,
	ProviderStars:     SchemeSharedToken,
	ProviderPanel:     SchemeCanonicalJSONReplay,
}

// Providers returns all known providers.
func Providers() []Provider {
	return []Provider{
		ProviderYooKassa, ProviderCryptoPay, ProviderFreeKassa,
		ProviderTribute, ProviderStars, ProviderPanel,
	}
}
