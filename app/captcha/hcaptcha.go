package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/imMORX/Gatekeeper/app/models"
)

const defaultEndpoint = "https://hcaptcha.com/siteverify"

// Verifier checks client challenge tokens against the hCaptcha siteverify
// endpoint.
type Verifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:   secret,
		endpoint: defaultEndpoint,
		client:   http.DefaultClient,
	}
}

// NewVerifierWithEndpoint exists for tests pointing at a fake siteverify.
func NewVerifierWithEndpoint(secret, endpoint string, client *http.Client) *Verifier {
	return &Verifier{secret: secret, endpoint: endpoint, client: client}
}

// Verify returns whether the token passed the challenge. A missing token is
// rejected without calling the endpoint. A transport or decode failure is
// returned as an error for the handler to surface as a server fault.
func (v *Verifier) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("siteverify request: %w", err)
	}
	defer resp.Body.Close()

	var verdict models.SiteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, fmt.Errorf("siteverify decode: %w", err)
	}

	return verdict.Success, nil
}
