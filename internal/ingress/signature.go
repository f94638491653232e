package ingress

import (
	"context"
	"errors"
	"net/url"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the carrier's request signature.
const SignatureHeader = "X-Twilio-Signature"

// TokenSource provides the auth token that keys webhook signatures.
type TokenSource interface {
	AuthToken(ctx context.Context) (string, error)
}

// Verifier checks webhook signatures. A Verifier with Skip set accepts every
// request; it exists for local runs and tests.
type Verifier struct {
	Tokens TokenSource
	Skip   bool
}

// Verify checks signature against the full request URL and POST params.
func (v *Verifier) Verify(ctx context.Context, fullURL string, params url.Values, signature string) error {
	if v == nil || v.Skip {
		return nil
	}
	if v.Tokens == nil {
		return newError(ErrorInternal, "signature_token_unconfigured", errors.New("no token source"))
	}
	token, err := v.Tokens.AuthToken(ctx)
	if err != nil {
		return newError(ErrorInternal, "signature_token_unavailable", err)
	}
	if strings.TrimSpace(signature) == "" || !validSignature(token, fullURL, params, signature) {
		return newError(ErrorInvalidSignature, "signature_mismatch", nil)
	}
	return nil
}

// validSignature runs Twilio's request validator. Twilio posts each
// parameter once, so only the first value of a key is signed.
func validSignature(authToken, fullURL string, params url.Values, signature string) bool {
	flat := make(map[string]string, len(params))
	for k, vals := range params {
		if len(vals) > 0 {
			flat[k] = vals[0]
		}
	}
	validator := twilioclient.NewRequestValidator(authToken)
	return validator.Validate(fullURL, flat, signature)
}
