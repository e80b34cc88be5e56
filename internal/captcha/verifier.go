// Package captcha submits client-solved challenge tokens to third-party
// verification endpoints. The adapter is stateless and fails closed: a
// missing token, unknown provider, non-200 response, or timeout all verify
// as false.
package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoints per provider. Payload shape is the uniform siteverify form post;
// only the URL differs.
const (
	recaptchaURL = "https://www.google.com/recaptcha/api/siteverify"
	hcaptchaURL  = "https://hcaptcha.com/siteverify"
	turnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
)

// Verifier posts tokens to a provider's verification endpoint.
type Verifier struct {
	client    *http.Client
	endpoints map[string]string
}

// New creates a Verifier with the given hard timeout.
func New(timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{
		client: &http.Client{Timeout: timeout},
		endpoints: map[string]string{
			"recaptcha": recaptchaURL,
			"hcaptcha":  hcaptchaURL,
			"turnstile": turnstileURL,
		},
	}
}

// SetEndpoint overrides a provider URL. Test use only.
func (v *Verifier) SetEndpoint(provider, endpoint string) {
	v.endpoints[provider] = endpoint
}

type siteverifyResponse struct {
	Success bool `json:"success"`
}

// Verify submits the token and reports the provider's boolean outcome.
// Every failure mode returns false; an unreachable verification backend
// must never silently authorize.
func (v *Verifier) Verify(ctx context.Context, provider, token, secret, remoteOrigin string) bool {
	if token == "" || secret == "" {
		return false
	}
	endpoint, ok := v.endpoints[strings.ToLower(provider)]
	if !ok {
		return false
	}

	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", token)
	if remoteOrigin != "" {
		form.Set("remoteip", remoteOrigin)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Success
}
