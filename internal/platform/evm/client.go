// Package evm is the adapter for EVM marketplaces speaking the reservoir
// order API: per-token bids, collection-wide bids, and EIP-712 signature
// steps for both placement and off-chain cancellation.
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/rest"
)

const (
	defaultBaseURL   = "https://api-mainnet.magiceden.dev/v3/rtp"
	defaultOrderKind = "seaport-v1.6"
	defaultOrderbook = "reservoir"
	bidsPage         = 100
	// collectionScan is how many bids are read to find the top two
	// collection-wide ones among token bids.
	collectionScan = 50
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	Chain      domain.Chain
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	OrderKind  string
	Orderbook  string
	// Currency is the bid token contract; empty uses the chain's wrapped
	// native token.
	Currency string
	Source   string
	Signer   domain.Signer
}

// Client is the REST client for one EVM chain.
type Client struct {
	rest      *rest.Client
	chain     domain.Chain
	signer    domain.Signer
	orderKind string
	orderbook string
	currency  string
	source    string
}

// NewClient creates a client for cfg.Chain.
func NewClient(cfg ClientConfig) (*Client, error) {
	if !cfg.Chain.IsEVM() {
		return nil, fmt.Errorf("evm: chain %q is not an EVM chain", cfg.Chain)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.OrderKind == "" {
		cfg.OrderKind = defaultOrderKind
	}
	if cfg.Orderbook == "" {
		cfg.Orderbook = defaultOrderbook
	}
	if cfg.Currency != "" && !common.IsHexAddress(cfg.Currency) {
		return nil, fmt.Errorf("evm: currency %q is not an address", cfg.Currency)
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Client{
		rest: rest.New(rest.Config{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/" + string(cfg.Chain),
			Headers:    headers,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}),
		chain:     cfg.Chain,
		signer:    cfg.Signer,
		orderKind: cfg.OrderKind,
		orderbook: cfg.Orderbook,
		currency:  cfg.Currency,
		source:    cfg.Source,
	}, nil
}

// Chain returns the chain the client serves.
func (c *Client) Chain() domain.Chain {
	return c.chain
}

// ── Market data ──────────────────────────────────────────────────────────

// FloorPrice returns the collection's lowest ask.
func (c *Client) FloorPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("id", symbol)

	var resp apiCollections
	if err := c.rest.Get(ctx, "/collections/v7?"+params.Encode(), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("evm: floor price %s: %w", symbol, err)
	}
	if len(resp.Collections) == 0 {
		return decimal.Zero, fmt.Errorf("evm: collection %s: %w", symbol, domain.ErrNotFound)
	}
	price := resp.Collections[0].FloorAsk.Price
	if price == nil {
		return decimal.Zero, nil
	}
	return price.Amount.Raw.ETH(), nil
}

// BottomListings returns the n cheapest listed tokens, cheapest first.
func (c *Client) BottomListings(ctx context.Context, symbol string, n int) ([]domain.BottomListing, error) {
	if n <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("collection", symbol)
	params.Set("sortBy", "floorAskPrice")
	params.Set("sortDirection", "asc")
	params.Set("limit", strconv.Itoa(n))

	var resp apiTokens
	if err := c.rest.Get(ctx, "/tokens/v7?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("evm: bottom listings %s: %w", symbol, err)
	}
	out := make([]domain.BottomListing, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		p := t.Market.FloorAsk.Price
		if p == nil || !p.Amount.Raw.IsPositive() {
			continue
		}
		out = append(out, domain.BottomListing{TokenID: t.Token.TokenID, ListedPrice: p.Amount.Raw.ETH()})
	}
	return out, nil
}

// ── Offers ───────────────────────────────────────────────────────────────

// BestOffers returns the two highest active bids on the target. For a
// collection target only collection-wide bids count.
func (c *Client) BestOffers(ctx context.Context, target domain.OfferTarget) ([]domain.Offer, error) {
	if target.IsCollection() {
		bids, err := c.bids(ctx, target, "", collectionScan)
		if err != nil {
			return nil, err
		}
		if len(bids) > 2 {
			bids = bids[:2]
		}
		return bids, nil
	}
	return c.bids(ctx, target, "", 2)
}

// Offers returns buyer's active bids on the target.
func (c *Client) Offers(ctx context.Context, target domain.OfferTarget, buyer string) ([]domain.Offer, error) {
	return c.bids(ctx, target, buyer, 20)
}

func (c *Client) bids(ctx context.Context, target domain.OfferTarget, maker string, limit int) ([]domain.Offer, error) {
	params := url.Values{}
	if target.IsCollection() {
		params.Set("collection", target.Symbol)
	} else {
		params.Set("token", tokenRef(target))
	}
	params.Set("status", "active")
	params.Set("sortBy", "price")
	params.Set("limit", strconv.Itoa(limit))
	if maker != "" {
		params.Set("maker", maker)
	}

	var resp apiBids
	if err := c.rest.Get(ctx, "/orders/bids/v6?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("evm: bids on %s: %w", target.Key(), err)
	}
	out := make([]domain.Offer, 0, len(resp.Orders))
	for _, b := range resp.Orders {
		if target.IsCollection() && b.Criteria.Kind != "collection" {
			continue
		}
		out = append(out, b.toDomain())
	}
	return out, nil
}

// UserOffers returns every active bid buyer holds in the collection. A
// collection-wide bid comes back without a TokenID.
func (c *Client) UserOffers(ctx context.Context, symbol, buyer string) ([]domain.Offer, error) {
	var (
		out          []domain.Offer
		continuation string
	)
	for {
		params := url.Values{}
		params.Set("collection", symbol)
		params.Set("maker", buyer)
		params.Set("status", "active")
		params.Set("limit", strconv.Itoa(bidsPage))
		if continuation != "" {
			params.Set("continuation", continuation)
		}

		var resp apiBids
		if err := c.rest.Get(ctx, "/orders/bids/v6?"+params.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("evm: user bids %s: %w", buyer, err)
		}
		for _, b := range resp.Orders {
			o := b.toDomain()
			if b.Criteria.Kind == "collection" {
				o.TokenID = ""
			}
			out = append(out, o)
		}
		if resp.Continuation == "" || len(resp.Orders) == 0 {
			return out, nil
		}
		continuation = resp.Continuation
	}
}

// CreateOffer asks the marketplace to build the bid and returns its EIP-712
// signature request.
func (c *Client) CreateOffer(ctx context.Context, req domain.OfferRequest) (domain.UnsignedOffer, error) {
	if !common.IsHexAddress(req.PaymentAddress) {
		return domain.UnsignedOffer{}, fmt.Errorf("evm: maker %q is not an address: %w", req.PaymentAddress, domain.ErrInvalidOffer)
	}
	if !req.Price.IsPositive() {
		return domain.UnsignedOffer{}, fmt.Errorf("evm: price %s: %w", req.Price, domain.ErrInvalidOffer)
	}

	p := bidParams{
		WeiPrice:       toWei(req.Price),
		OrderKind:      c.orderKind,
		Orderbook:      c.orderbook,
		Currency:       c.currency,
		ExpirationTime: strconv.FormatInt(req.Expiry.Unix(), 10),
	}
	if req.Target.IsCollection() {
		p.Collection = req.Target.Symbol
		p.Quantity = req.Quantity
	} else {
		p.Token = tokenRef(req.Target)
	}

	var steps apiSteps
	body := bidRequest{Maker: req.PaymentAddress, Source: c.source, Params: []bidParams{p}}
	if err := c.rest.Post(ctx, "/execute/bid/v5", body, &steps); err != nil {
		return domain.UnsignedOffer{}, fmt.Errorf("evm: create bid %s: %w", req.Target.Key(), err)
	}
	payload, submit, err := prepare(steps)
	if err != nil {
		return domain.UnsignedOffer{}, fmt.Errorf("evm: create bid %s: %w", req.Target.Key(), err)
	}
	return domain.UnsignedOffer{Request: req, Kind: domain.SignEIP712, Payload: payload, Submit: submit}, nil
}

// prepare extracts the typed data to sign and the post instructions.
func prepare(steps apiSteps) (payload, submit json.RawMessage, err error) {
	sign, post, err := steps.signatureStep()
	if err != nil {
		return nil, nil, err
	}
	td, err := sign.typedData()
	if err != nil {
		return nil, nil, err
	}
	if payload, err = json.Marshal(td); err != nil {
		return nil, nil, fmt.Errorf("encode typed data: %w", err)
	}
	if submit, err = json.Marshal(post); err != nil {
		return nil, nil, fmt.Errorf("encode post step: %w", err)
	}
	return payload, submit, nil
}

// Sign signs the typed data with the configured signer.
func (c *Client) Sign(ctx context.Context, offer domain.UnsignedOffer) (domain.SignedOffer, error) {
	sig, err := c.sign(ctx, offer.Payload)
	if err != nil {
		return domain.SignedOffer{}, err
	}
	return domain.SignedOffer{UnsignedOffer: offer, Signature: sig}, nil
}

func (c *Client) sign(ctx context.Context, payload json.RawMessage) (string, error) {
	if c.signer == nil {
		return "", fmt.Errorf("evm: no signer configured: %w", domain.ErrSigningFailed)
	}
	sig, err := c.signer.Sign(ctx, domain.SignEIP712, payload)
	if err != nil {
		return "", fmt.Errorf("evm: sign: %w", err)
	}
	return sig, nil
}

// SubmitOffer posts the signature to the endpoint named by the signature
// step.
func (c *Client) SubmitOffer(ctx context.Context, offer domain.SignedOffer) (domain.OfferReceipt, error) {
	id, err := c.post(ctx, offer.Submit, offer.Signature)
	if err != nil {
		return domain.OfferReceipt{}, fmt.Errorf("evm: submit bid %s: %w", offer.Request.Target.Key(), err)
	}
	return domain.OfferReceipt{OK: id != "", OrderID: id}, nil
}

func (c *Client) post(ctx context.Context, submit json.RawMessage, signature string) (string, error) {
	var p apiPost
	if err := json.Unmarshal(submit, &p); err != nil {
		return "", fmt.Errorf("decode post step: %w", err)
	}
	if p.Endpoint == "" {
		return "", fmt.Errorf("post step without endpoint: %w", domain.ErrInvalidOffer)
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}
	sep := "?"
	if strings.Contains(p.Endpoint, "?") {
		sep = "&"
	}
	path := p.Endpoint + sep + "signature=" + url.QueryEscape(signature)

	var body any
	if len(p.Body) > 0 {
		body = p.Body
	}
	var res apiPostResult
	if err := c.rest.Do(ctx, method, path, body, &res); err != nil {
		return "", err
	}
	return res.orderID(), nil
}

// CancelOffer withdraws a bid through an off-chain cancellation signature.
func (c *Client) CancelOffer(ctx context.Context, req domain.CancelRequest) error {
	var steps apiSteps
	err := c.rest.Post(ctx, "/execute/cancel/v3", cancelRequest{OrderIDs: []string{req.OrderID}}, &steps)
	if err != nil {
		return fmt.Errorf("evm: prepare cancel %s: %w", req.OrderID, err)
	}
	payload, submit, err := prepare(steps)
	if err != nil {
		return fmt.Errorf("evm: prepare cancel %s: %w", req.OrderID, err)
	}
	sig, err := c.sign(ctx, payload)
	if err != nil {
		return err
	}
	if _, err := c.post(ctx, submit, sig); err != nil {
		return fmt.Errorf("evm: cancel %s: %w", req.OrderID, err)
	}
	return nil
}

// tokenRef is the "contract:tokenId" form the API uses for one token.
func tokenRef(t domain.OfferTarget) string {
	return t.Symbol + ":" + t.TokenID
}

var _ domain.Marketplace = (*Client)(nil)
