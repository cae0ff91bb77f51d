package magiceden

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// satsExp is the exponent between satoshis and BTC.
const satsExp = 8

// sats is a satoshi amount that decodes from a JSON number or string.
type sats int64

func (s *sats) UnmarshalJSON(data []byte) error {
	str := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return err
	}
	*s = sats(d.IntPart())
	return nil
}

// BTC converts to the display unit.
func (s sats) BTC() decimal.Decimal {
	return decimal.NewFromInt(int64(s)).Shift(-satsExp)
}

// toSats converts a BTC amount to whole satoshis, rounding down.
func toSats(btc decimal.Decimal) int64 {
	return btc.Shift(satsExp).RoundFloor(0).IntPart()
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// --------------------------------------------------------------------------
// API DTOs
// --------------------------------------------------------------------------

// apiStat is the collection stats response.
type apiStat struct {
	FloorPrice sats `json:"floorPrice"`
}

// apiToken is one listed token.
type apiToken struct {
	ID               string `json:"id"`
	CollectionSymbol string `json:"collectionSymbol"`
	ListedPrice      sats   `json:"listedPrice"`
	Listed           bool   `json:"listed"`
}

type apiTokens struct {
	Tokens []apiToken `json:"tokens"`
}

// apiOffer is one standing offer.
type apiOffer struct {
	ID                  string   `json:"id"`
	TokenID             string   `json:"tokenId"`
	Price               sats     `json:"price"`
	BuyerPaymentAddress string   `json:"buyerPaymentAddress"`
	ExpirationDate      int64    `json:"expirationDate"`
	Status              string   `json:"status"`
	Token               apiToken `json:"token"`
}

type apiOffers struct {
	Total  int        `json:"total"`
	Offers []apiOffer `json:"offers"`
}

func (o apiOffer) toDomain() domain.Offer {
	return domain.Offer{
		ID:        o.ID,
		TokenID:   o.TokenID,
		Price:     o.Price.BTC(),
		Owner:     o.BuyerPaymentAddress,
		ExpiresAt: msTime(o.ExpirationDate),
	}
}

// apiUnsignedOffer is the prepared offer PSBT.
type apiUnsignedOffer struct {
	PSBTBase64   string          `json:"psbtBase64"`
	ToSignInputs json.RawMessage `json:"toSignInputs,omitempty"`
}

// submitOffer is carried in UnsignedOffer.Submit and posted with the
// signed PSBT.
type submitOffer struct {
	TokenID               string `json:"tokenId"`
	Price                 int64  `json:"price"`
	ExpirationDate        int64  `json:"expirationDate"`
	BuyerPaymentAddress   string `json:"buyerPaymentAddress"`
	BuyerPaymentPublicKey string `json:"buyerPaymentPublicKey"`
	BuyerReceiveAddress   string `json:"buyerReceiveAddress"`
	FeerateTier           string `json:"feerateTier"`
	SignedPSBTBase64      string `json:"signedPSBTBase64,omitempty"`
}

type apiSubmitResult struct {
	OfferID string `json:"offerId"`
	OK      bool   `json:"ok"`
}

// apiCancel is the prepared cancellation PSBT.
type apiCancel struct {
	PSBTBase64 string `json:"psbtBase64"`
}

type submitCancel struct {
	OfferID          string `json:"offerId"`
	MakerPublicKey   string `json:"makerPublicKey"`
	MakerPaymentType string `json:"makerPaymentType"`
	SignedPSBTBase64 string `json:"signedPSBTBase64"`
}

type apiCancelResult struct {
	OK bool `json:"ok"`
}
