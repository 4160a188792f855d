package zkvm

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/feral-file/ttc-coordinator/internal/adapter"
)

// HTTPProvingClient talks to a zkVM host process over HTTP, the same
// mockable-external-call shape adapter.HTTPClient gives every other
// out-of-process collaborator in this system. The host process itself
// (the risc0 toolchain, its guest ELF, its proving backend) is out of
// scope per spec.md §1; this type only speaks its wire protocol.
type HTTPProvingClient struct {
	baseURL string
	client  adapter.HTTPClient
}

// NewHTTPProvingClient builds a ProvingClient backed by a zkVM host
// service reachable at baseURL.
func NewHTTPProvingClient(baseURL string, client adapter.HTTPClient) *HTTPProvingClient {
	return &HTTPProvingClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type proveResponse struct {
	Seal    string `json:"seal"`
	Journal string `json:"journal"`
}

func (c *HTTPProvingClient) Prove(ctx context.Context, guestInput []byte) ([]byte, []byte, error) {
	body, err := c.client.Post(ctx, c.baseURL+"/prove", "application/json", bytes.NewReader(guestInput))
	if err != nil {
		return nil, nil, fmt.Errorf("proving service prove: %w", err)
	}

	var resp proveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, fmt.Errorf("proving service prove: decode response: %w", err)
	}

	seal, err := hex.DecodeString(strings.TrimPrefix(resp.Seal, "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("proving service prove: decode seal: %w", err)
	}
	journal, err := hex.DecodeString(strings.TrimPrefix(resp.Journal, "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("proving service prove: decode journal: %w", err)
	}
	return seal, journal, nil
}

func (c *HTTPProvingClient) ImageID(ctx context.Context) ([]byte, error) {
	var resp struct {
		ImageID string `json:"image_id"`
	}
	if err := c.client.Get(ctx, c.baseURL+"/image_id", &resp); err != nil {
		return nil, fmt.Errorf("proving service image id: %w", err)
	}
	return hex.DecodeString(strings.TrimPrefix(resp.ImageID, "0x"))
}
