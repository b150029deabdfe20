package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultDoHURL     = "https://cloudflare-dns.com/dns-query"
	DefaultDoHTimeout = 5 * time.Second

	dnsTypeA = 1
)

var ErrNoAnswer = errors.New("no A record in response")

// Resolver turns a domain name into a dotted IPv4 address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

type ResolverFunc func(ctx context.Context, host string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, host string) (string, error) {
	return f(ctx, host)
}

// DoHResolver queries a DNS-over-HTTPS endpoint speaking the JSON API
// (application/dns-json).
type DoHResolver struct {
	endpoint string
	client   *http.Client
}

func NewDoHResolver(endpoint string, timeout time.Duration) *DoHResolver {
	if endpoint == "" {
		endpoint = DefaultDoHURL
	}
	if timeout <= 0 {
		timeout = DefaultDoHTimeout
	}
	return &DoHResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

func (r *DoHResolver) Resolve(ctx context.Context, host string) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid DoH endpoint: %w", err)
	}
	q := u.Query()
	q.Set("name", host)
	q.Set("type", "A")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create DoH request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("DoH request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("DoH server returned status %d", resp.StatusCode)
	}

	var body dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode DoH response: %w", err)
	}
	if body.Status != 0 {
		return "", fmt.Errorf("DoH query for %s failed with rcode %d", host, body.Status)
	}

	for _, a := range body.Answer {
		if a.Type == dnsTypeA && IsNumericAddress(a.Data) {
			return a.Data, nil
		}
	}
	return "", fmt.Errorf("%s: %w", host, ErrNoAnswer)
}
