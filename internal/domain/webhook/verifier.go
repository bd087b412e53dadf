package webhook

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// verifyFunc is one signature verification recipe. Implementations
// return nil when the signature is valid and one of the package's
// taxonomy errors otherwise.
type verifyFunc func(v *Validator, cred Credential, payload []byte, signature string) error

// schemeVerifiers is the closed dispatch table over verification
// schemes. Adding a Scheme constant without an entry here is caught by
// NewValidator at construction time.
var schemeVerifiers = map[Scheme]verifyFunc{
	SchemeEventObject:         (*Validator).verifyEventObject,
	SchemeCanonicalJSON:       (*Validator).verifyCanonicalJSON,
	SchemeFieldConcat:         (*Validator).verifyFieldConcat,
	SchemeSharedToken:         (*Validator).verifySharedToken,
	SchemeCanonicalJSONReplay: (*Validator).verifyCanonicalJSONReplay,
}

// Validator verifies inbound webhook authenticity per provider. It is
// stateless except for the configured credentials and may be shared
// across goroutines.
type Validator struct {
	creds  map[Provider]Credential
	logger *slog.Logger
	now    func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the clock used for replay checks.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator builds a validator from per-provider secrets. Providers
// keep their default signature header, scheme and replay window; a
// provider with an empty secret stays configured but rejects every
// request with ErrMissingSecret.
func NewValidator(secrets map[Provider]string, logger *slog.Logger, opts ...ValidatorOption) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		creds:  make(map[Provider]Credential, len(secrets)),
		logger: logger,
		now:    time.Now,
	}
	for provider, secret := range secrets {
		if !provider.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
		}
		scheme := defaultSchemes[provider]
		if _, ok := schemeVerifiers[scheme]; !ok {
			return nil, fmt.Errorf("no verifier registered for scheme %q", scheme)
		}
		v.creds[provider] = Credential{
			Provider:     provider,
			Secret:       secret,
			Header:       defaultHeaders[provider],
			Scheme:       scheme,
			ReplayWindow: DefaultReplayWindow,
		}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// SignatureHeader returns the HTTP header the provider's signature
// arrives in, so transports know what to extract. Returns the generic
// "X-Signature" for unconfigured providers.
func (v *Validator) SignatureHeader(provider Provider) string {
	if cred, ok := v.creds[provider]; ok {
		return cred.Header
	}
	if h, ok := defaultHeaders[provider]; ok {
		return h
	}
	return "X-Signature"
}

// Configured reports whether the provider has a credential entry.
func (v *Validator) Configured(provider Provider) bool {
	_, ok := v.creds[provider]
	return ok
}

// Validate verifies the payload's signature for the provider. It
// returns nil when the request is authentic and one of the taxonomy
// errors otherwise. Replay checks run only after the MAC passes so an
// attacker probing timestamps learns nothing about signature validity.
func (v *Validator) Validate(provider Provider, payload []byte, signature string) error {
	cred, ok := v.creds[provider]
	if !ok {
		v.logger.Warn("webhook from unknown provider", "provider", provider)
		return ErrUnknownProvider
	}
	if cred.Secret == "" {
		v.logger.Error("webhook secret not configured", "provider", provider)
		return ErrMissingSecret
	}
	if signature == "" {
		v.logger.Warn("webhook missing signature", "provider", provider)
		return ErrMissingSignature
	}

	verify := schemeVerifiers[cred.Scheme]
	if err := verify(v, cred, payload, signature); err != nil {
		v.logger.Warn("webhook validation failed",
			"provider", provider, "scheme", cred.Scheme, "error", err)
		return err
	}
	return nil
}

// decodeObject parses the payload into a generic map, preserving number
// formatting for canonical re-serialization.
func decodeObject(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, ErrMalformedPayload
	}
	return doc, nil
}

// stringField extracts a field as a string, accepting JSON strings and
// numbers (providers are inconsistent about quoting numeric fields).
func stringField(doc map[string]any, key string) (string, bool) {
	val, ok := doc[key]
	if !ok {
		return "", false
	}
	switch t := val.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func hmacSHA256Hex(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyEventObject implements the "event&objectID&secret" recipe.
func (v *Validator) verifyEventObject(cred Credential, payload []byte, signature string) error {
	doc, err := decodeObject(payload)
	if err != nil {
		return err
	}
	event, ok := stringField(doc, "event")
	if !ok {
		return ErrMalformedPayload
	}
	object, ok := doc["object"].(map[string]any)
	if !ok {
		return ErrMalformedPayload
	}
	objectID, ok := stringField(object, "id")
	if !ok {
		return ErrMalformedPayload
	}

	message := fmt.Sprintf("%s&%s&%s", event, objectID, cred.Secret)
	expected := hmacSHA256Hex(cred.Secret, []byte(message))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// verifyCanonicalJSON implements HMAC-SHA256 over the canonical body.
func (v *Validator) verifyCanonicalJSON(cred Credential, payload []byte, signature string) error {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return ErrMalformedPayload
	}
	expected := hmacSHA256Hex(cred.Secret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// verifyFieldConcat implements the legacy MD5 recipe over
// "merchantID:amount:secret:orderID". Comparison is case-insensitive
// because the provider emits uppercase hex.
func (v *Validator) verifyFieldConcat(cred Credential, payload []byte, signature string) error {
	doc, err := decodeObject(payload)
	if err != nil {
		return err
	}
	merchantID, okM := stringField(doc, "MERCHANT_ID")
	amount, okA := stringField(doc, "AMOUNT")
	orderID, okO := stringField(doc, "MERCHANT_ORDER_ID")
	if !okM || !okA || !okO {
		return ErrMalformedPayload
	}

	message := fmt.Sprintf("%s:%s:%s:%s", merchantID, amount, cred.Secret, orderID)
	sum := md5.Sum([]byte(message))
	expected := hex.EncodeToString(sum[:])
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// verifySharedToken compares the header value against the secret in
// constant time; there is no payload-derived MAC for this provider.
func (v *Validator) verifySharedToken(cred Credential, payload []byte, signature string) error {
	if subtle.ConstantTimeCompare([]byte(signature), []byte(cred.Secret)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// verifyCanonicalJSONReplay runs the canonical JSON check and then,
// when the payload carries a timestamp field, enforces the replay
// window against wall-clock time.
func (v *Validator) verifyCanonicalJSONReplay(cred Credential, payload []byte, signature string) error {
	if err := v.verifyCanonicalJSON(cred, payload, signature); err != nil {
		return err
	}

	doc, err := decodeObject(payload)
	if err != nil {
		return err
	}
	raw, ok := doc["timestamp"]
	if !ok {
		return nil
	}
	num, ok := raw.(json.Number)
	if !ok {
		return ErrMalformedPayload
	}
	ts, err := num.Int64()
	if err != nil {
		return ErrMalformedPayload
	}

	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > cred.ReplayWindow {
		v.logger.Warn("webhook timestamp outside replay window",
			"provider", cred.Provider, "skew_seconds", skew)
		return ErrReplayDetected
	}
	return nil
}
