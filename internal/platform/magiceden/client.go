// Package magiceden is the ordinals marketplace adapter: floor and listing
// data, per-inscription offers signed as PSBTs, and the activity stream.
package magiceden

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/platform/rest"
)

const (
	defaultBaseURL     = "https://api-mainnet.magiceden.dev"
	defaultFeerateTier = "halfHourFee"
	userOffersPage     = 100
	makerPaymentType   = "p2wpkh"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	FeerateTier string
	// Signer signs offer and cancellation PSBTs.
	Signer domain.Signer
}

// Client is the REST client for the ordinals marketplace API.
type Client struct {
	rest        *rest.Client
	signer      domain.Signer
	feerateTier string
}

// NewClient creates a new ordinals marketplace client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.FeerateTier == "" {
		cfg.FeerateTier = defaultFeerateTier
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Client{
		rest: rest.New(rest.Config{
			BaseURL:    cfg.BaseURL,
			Headers:    headers,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}),
		signer:      cfg.Signer,
		feerateTier: cfg.FeerateTier,
	}
}

// ── Market data ──────────────────────────────────────────────────────────

// FloorPrice returns the collection floor in BTC.
func (c *Client) FloorPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("collectionSymbol", symbol)

	var stat apiStat
	if err := c.rest.Get(ctx, "/v2/ord/btc/stat?"+params.Encode(), &stat); err != nil {
		return decimal.Zero, fmt.Errorf("magiceden: floor price %s: %w", symbol, err)
	}
	return stat.FloorPrice.BTC(), nil
}

// BottomListings returns the n cheapest listed inscriptions, cheapest first.
func (c *Client) BottomListings(ctx context.Context, symbol string, n int) ([]domain.BottomListing, error) {
	if n <= 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("collectionSymbol", symbol)
	params.Set("limit", strconv.Itoa(n))
	params.Set("offset", "0")
	params.Set("sortBy", "priceAsc")
	params.Set("disablePendingTransactions", "true")

	var resp apiTokens
	if err := c.rest.Get(ctx, "/v2/ord/btc/tokens?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("magiceden: bottom listings %s: %w", symbol, err)
	}

	out := make([]domain.BottomListing, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		if !t.Listed || t.ListedPrice <= 0 {
			continue
		}
		out = append(out, domain.BottomListing{TokenID: t.ID, ListedPrice: t.ListedPrice.BTC()})
	}
	return out, nil
}

// ── Offers ───────────────────────────────────────────────────────────────

// BestOffers returns the two highest valid offers on the inscription.
func (c *Client) BestOffers(ctx context.Context, target domain.OfferTarget) ([]domain.Offer, error) {
	if target.IsCollection() {
		return nil, fmt.Errorf("magiceden: collection offers: %w", domain.ErrInvalidOffer)
	}
	return c.offers(ctx, target.TokenID, "", 2)
}

// Offers returns buyer's valid offers on the inscription.
func (c *Client) Offers(ctx context.Context, target domain.OfferTarget, buyer string) ([]domain.Offer, error) {
	if target.IsCollection() {
		return nil, fmt.Errorf("magiceden: collection offers: %w", domain.ErrInvalidOffer)
	}
	return c.offers(ctx, target.TokenID, buyer, 20)
}

func (c *Client) offers(ctx context.Context, tokenID, buyer string, limit int) ([]domain.Offer, error) {
	params := url.Values{}
	params.Set("status", "valid")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")
	params.Set("sortBy", "priceDesc")
	params.Set("token_id", tokenID)
	if buyer != "" {
		params.Set("wallet_address_buyer", buyer)
	}

	var resp apiOffers
	if err := c.rest.Get(ctx, "/v2/ord/btc/offers/?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("magiceden: offers on %s: %w", tokenID, err)
	}
	out := make([]domain.Offer, 0, len(resp.Offers))
	for _, o := range resp.Offers {
		out = append(out, o.toDomain())
	}
	return out, nil
}

// UserOffers returns every valid offer buyer holds in the collection.
func (c *Client) UserOffers(ctx context.Context, symbol, buyer string) ([]domain.Offer, error) {
	var out []domain.Offer
	for offset := 0; ; offset += userOffersPage {
		params := url.Values{}
		params.Set("status", "valid")
		params.Set("limit", strconv.Itoa(userOffersPage))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("sortBy", "priceDesc")
		params.Set("wallet_address_buyer", buyer)

		var resp apiOffers
		if err := c.rest.Get(ctx, "/v2/ord/btc/offers/?"+params.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("magiceden: user offers %s: %w", buyer, err)
		}
		for _, o := range resp.Offers {
			if o.Token.CollectionSymbol != "" && o.Token.CollectionSymbol != symbol {
				continue
			}
			out = append(out, o.toDomain())
		}
		if len(resp.Offers) < userOffersPage {
			return out, nil
		}
	}
}

// CreateOffer asks the marketplace for the unsigned offer PSBT.
func (c *Client) CreateOffer(ctx context.Context, req domain.OfferRequest) (domain.UnsignedOffer, error) {
	if req.Target.IsCollection() {
		return domain.UnsignedOffer{}, fmt.Errorf("magiceden: collection offers: %w", domain.ErrInvalidOffer)
	}
	sub := submitOffer{
		TokenID:               req.Target.TokenID,
		Price:                 toSats(req.Price),
		ExpirationDate:        req.Expiry.UnixMilli(),
		BuyerPaymentAddress:   req.PaymentAddress,
		BuyerPaymentPublicKey: req.PublicKey,
		BuyerReceiveAddress:   req.ReceiveAddress,
		FeerateTier:           c.feerateTier,
	}
	if sub.Price <= 0 {
		return domain.UnsignedOffer{}, fmt.Errorf("magiceden: price %s: %w", req.Price, domain.ErrInvalidOffer)
	}

	params := url.Values{}
	params.Set("tokenId", sub.TokenID)
	params.Set("price", strconv.FormatInt(sub.Price, 10))
	params.Set("expirationDate", strconv.FormatInt(sub.ExpirationDate, 10))
	params.Set("buyerTokenReceiveAddress", sub.BuyerReceiveAddress)
	params.Set("buyerPaymentAddress", sub.BuyerPaymentAddress)
	params.Set("buyerPaymentPublicKey", sub.BuyerPaymentPublicKey)
	params.Set("feerateTier", sub.FeerateTier)

	var unsigned apiUnsignedOffer
	if err := c.rest.Get(ctx, "/v2/ord/btc/offers/create?"+params.Encode(), &unsigned); err != nil {
		return domain.UnsignedOffer{}, fmt.Errorf("magiceden: create offer %s: %w", sub.TokenID, err)
	}
	if unsigned.PSBTBase64 == "" {
		return domain.UnsignedOffer{}, fmt.Errorf("magiceden: create offer %s: empty psbt: %w", sub.TokenID, domain.ErrInvalidOffer)
	}

	payload, err := json.Marshal(unsigned)
	if err != nil {
		return domain.UnsignedOffer{}, fmt.Errorf("magiceden: encode psbt: %w", err)
	}
	submit, err := json.Marshal(sub)
	if err != nil {
		return domain.UnsignedOffer{}, fmt.Errorf("magiceden: encode submit: %w", err)
	}
	return domain.UnsignedOffer{Request: req, Kind: domain.SignPSBT, Payload: payload, Submit: submit}, nil
}

// Sign signs the offer PSBT with the configured signer.
func (c *Client) Sign(ctx context.Context, offer domain.UnsignedOffer) (domain.SignedOffer, error) {
	sig, err := c.sign(ctx, offer.Kind, offer.Payload)
	if err != nil {
		return domain.SignedOffer{}, err
	}
	return domain.SignedOffer{UnsignedOffer: offer, Signature: sig}, nil
}

func (c *Client) sign(ctx context.Context, kind domain.SignKind, payload json.RawMessage) (string, error) {
	if c.signer == nil {
		return "", fmt.Errorf("magiceden: no signer configured: %w", domain.ErrSigningFailed)
	}
	sig, err := c.signer.Sign(ctx, kind, payload)
	if err != nil {
		return "", fmt.Errorf("magiceden: sign: %w", err)
	}
	return sig, nil
}

// SubmitOffer posts the signed PSBT.
func (c *Client) SubmitOffer(ctx context.Context, offer domain.SignedOffer) (domain.OfferReceipt, error) {
	var sub submitOffer
	if err := json.Unmarshal(offer.Submit, &sub); err != nil {
		return domain.OfferReceipt{}, fmt.Errorf("magiceden: decode submit: %w", err)
	}
	sub.SignedPSBTBase64 = offer.Signature

	var res apiSubmitResult
	if err := c.rest.Post(ctx, "/v2/ord/btc/offers/create", sub, &res); err != nil {
		return domain.OfferReceipt{}, fmt.Errorf("magiceden: submit offer %s: %w", sub.TokenID, err)
	}
	return domain.OfferReceipt{OK: res.OfferID != "", OrderID: res.OfferID}, nil
}

// CancelOffer withdraws an offer. Cancellation is itself a signed PSBT.
func (c *Client) CancelOffer(ctx context.Context, req domain.CancelRequest) error {
	params := url.Values{}
	params.Set("offerId", req.OrderID)
	params.Set("makerPublicKey", req.PublicKey)
	params.Set("makerPaymentType", makerPaymentType)

	var prepared apiCancel
	if err := c.rest.Get(ctx, "/v2/ord/btc/offers/cancel?"+params.Encode(), &prepared); err != nil {
		return fmt.Errorf("magiceden: prepare cancel %s: %w", req.OrderID, err)
	}
	payload, err := json.Marshal(prepared)
	if err != nil {
		return fmt.Errorf("magiceden: encode cancel psbt: %w", err)
	}
	sig, err := c.sign(ctx, domain.SignPSBT, payload)
	if err != nil {
		return err
	}

	var res apiCancelResult
	err = c.rest.Post(ctx, "/v2/ord/btc/offers/cancel", submitCancel{
		OfferID:          req.OrderID,
		MakerPublicKey:   req.PublicKey,
		MakerPaymentType: makerPaymentType,
		SignedPSBTBase64: sig,
	}, &res)
	if err != nil {
		return fmt.Errorf("magiceden: cancel %s: %w", req.OrderID, err)
	}
	if !res.OK {
		return fmt.Errorf("magiceden: cancel %s: not acknowledged", req.OrderID)
	}
	return nil
}

var _ domain.Marketplace = (*Client)(nil)
