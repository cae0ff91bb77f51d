package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/rest"
)

// RemoteConfig configures a RemotePSBTSigner.
type RemoteConfig struct {
	// URL is the signing daemon's root, for example http://127.0.0.1:7070.
	URL string
	// Address is the payment address the daemon signs for.
	Address string
	Token   string
	Timeout time.Duration
}

// RemotePSBTSigner hands PSBTs to an external signing daemon that holds the
// bitcoin key. The bot never sees the key.
type RemotePSBTSigner struct {
	rest    *rest.Client
	address string
}

type signRequest struct {
	Kind    domain.SignKind `json:"kind"`
	Address string          `json:"address"`
	Payload json.RawMessage `json:"payload"`
}

type signResponse struct {
	Signed string `json:"signed"`
}

// NewRemotePSBTSigner creates a signer backed by the daemon at cfg.URL.
func NewRemotePSBTSigner(cfg RemoteConfig) (*RemotePSBTSigner, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("crypto/remote: signer url is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("crypto/remote: signer address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	headers := map[string]string{}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}
	return &RemotePSBTSigner{
		// Signing is not idempotent from the daemon's point of view, so no
		// transport retries.
		rest:    rest.New(rest.Config{BaseURL: cfg.URL, Headers: headers, Timeout: cfg.Timeout}),
		address: cfg.Address,
	}, nil
}

// Address returns the payment address the daemon signs for.
func (s *RemotePSBTSigner) Address() string {
	return s.address
}

// Sign posts the PSBT payload and returns the signed PSBT in base64.
func (s *RemotePSBTSigner) Sign(ctx context.Context, kind domain.SignKind, payload json.RawMessage) (string, error) {
	if kind != domain.SignPSBT {
		return "", fmt.Errorf("crypto/remote: cannot sign %s: %w", kind, domain.ErrSigningFailed)
	}
	var resp signResponse
	err := s.rest.Post(ctx, "/sign", signRequest{Kind: kind, Address: s.address, Payload: payload}, &resp)
	if err != nil {
		return "", fmt.Errorf("crypto/remote: sign: %v: %w", err, domain.ErrSigningFailed)
	}
	if resp.Signed == "" {
		return "", fmt.Errorf("crypto/remote: empty signature: %w", domain.ErrSigningFailed)
	}
	return resp.Signed, nil
}

var _ domain.Signer = (*RemotePSBTSigner)(nil)
