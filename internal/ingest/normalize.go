package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// activity is the wire shape of a marketplace activity frame. Prices arrive
// in satoshis, as a JSON number or a string depending on the event kind.
type activity struct {
	Kind                string          `json:"kind"`
	CollectionSymbol    string          `json:"collectionSymbol"`
	TokenID             string          `json:"tokenId"`
	ListedPrice         json.RawMessage `json:"listedPrice"`
	BuyerPaymentAddress string          `json:"buyerPaymentAddress"`
	Seller              string          `json:"sellerPaymentReceiverAddress"`
	OldOwner            string          `json:"oldOwner"`
	CreatedAt           string          `json:"createdAt"`
}

// satsPerBTC is the exponent between satoshis and BTC.
const satsPerBTC = 8

// Normalize decodes one raw feed frame. It reports false for frames that
// are not JSON objects, carry no collection, or are of an unhandled kind.
func Normalize(raw []byte) (domain.MarketEvent, bool) {
	var a activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.MarketEvent{}, false
	}
	kind := domain.EventKind(strings.TrimSpace(a.Kind))
	if !kind.Known() || a.CollectionSymbol == "" {
		return domain.MarketEvent{}, false
	}

	ev := domain.MarketEvent{
		Kind:       kind,
		Collection: a.CollectionSymbol,
		TokenID:    a.TokenID,
		Buyer:      a.BuyerPaymentAddress,
		Timestamp:  parseTime(a.CreatedAt),
	}
	if sats, ok := parseSats(a.ListedPrice); ok {
		ev.Price = sats.Shift(-satsPerBTC)
	}

	// On fills the acting party is whoever accepted the offer.
	switch kind {
	case domain.EventOfferAccepted, domain.EventCollOfferFulfilled:
		ev.Counterparty = firstNonEmpty(a.Seller, a.OldOwner)
	default:
		ev.Counterparty = a.BuyerPaymentAddress
	}
	return ev, true
}

func parseSats(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
