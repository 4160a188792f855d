package monitor

import (
	"context"
	"strings"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
)

// ProverClient is the monitor's view of C3's RPC surface (spec.md §4.5's
// "Proxied from C3" and "fire-and-forget wake"). Transport errors are
// treated as transient per spec.md §6, so callers log and swallow them
// rather than surfacing them to the watcher that triggered a wake.
type ProverClient interface {
	Wake(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	ImageIDContract(ctx context.Context) (string, error)
}

type httpProverClient struct {
	baseURL string
	client  adapter.HTTPClient
}

// NewHTTPProverClient builds a ProverClient that speaks the plain
// HTTP+JSON surface internal/prover.RPCServer exposes.
func NewHTTPProverClient(baseURL string, client adapter.HTTPClient) ProverClient {
	return &httpProverClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *httpProverClient) Wake(ctx context.Context) error {
	_, err := c.client.Post(ctx, c.baseURL+"/wake", "application/json", nil)
	return err
}

func (c *httpProverClient) HealthCheck(ctx context.Context) error {
	var body map[string]string
	return c.client.Get(ctx, c.baseURL+"/health_check", &body)
}

func (c *httpProverClient) ImageIDContract(ctx context.Context) (string, error) {
	var body struct {
		ImageID  string `json:"image_id"`
		Solidity string `json:"solidity"`
	}
	if err := c.client.Get(ctx, c.baseURL+"/get_image_id_contract", &body); err != nil {
		return "", err
	}
	return body.Solidity, nil
}
