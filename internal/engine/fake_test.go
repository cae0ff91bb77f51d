package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/backoff"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

const (
	us   = "bc1qours"
	them = "bc1qtheirs"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// order is one offer the fake marketplace accepted.
type order struct {
	id       string
	key      string
	token    string
	price    decimal.Decimal
	quantity int
	active   bool
}

// fakeMarket is an in-memory marketplace. Standing competitor offers are set
// per key; our own submitted offers are merged into the book.
type fakeMarket struct {
	mu sync.Mutex

	floor      decimal.Decimal
	floorErr   error
	listings   []domain.BottomListing
	competitor map[string][]domain.Offer
	userOffers []domain.Offer
	orders     []*order
	seq        int

	createGate chan struct{} // when set, CreateOffer waits for it
	createErr  error
	cancelErr  error
	hideOwn    bool // Offers never shows our orders

	creates, cancels int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		floor:      dec("2"),
		competitor: make(map[string][]domain.Offer),
	}
}

func (m *fakeMarket) setCompetitor(key string, offers ...domain.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.competitor[key] = offers
}

func (m *fakeMarket) CreateOffer(ctx context.Context, req domain.OfferRequest) (domain.UnsignedOffer, error) {
	m.mu.Lock()
	gate := m.createGate
	m.createGate = nil
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return domain.UnsignedOffer{}, m.createErr
	}
	return domain.UnsignedOffer{Request: req, Kind: domain.SignPSBT, Payload: []byte(`"psbt"`)}, nil
}

func (m *fakeMarket) Sign(ctx context.Context, offer domain.UnsignedOffer) (domain.SignedOffer, error) {
	return domain.SignedOffer{UnsignedOffer: offer, Signature: "signed"}, nil
}

func (m *fakeMarket) SubmitOffer(ctx context.Context, offer domain.SignedOffer) (domain.OfferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	o := &order{
		id:       fmt.Sprintf("ord-%d", m.seq),
		key:      offer.Request.Target.Key(),
		token:    offer.Request.Target.TokenID,
		price:    offer.Request.Price,
		quantity: offer.Request.Quantity,
		active:   true,
	}
	m.orders = append(m.orders, o)
	return domain.OfferReceipt{OK: true, OrderID: o.id}, nil
}

func (m *fakeMarket) CancelOffer(ctx context.Context, req domain.CancelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	if m.cancelErr != nil {
		return m.cancelErr
	}
	for _, o := range m.orders {
		if o.id == req.OrderID && o.active {
			o.active = false
			return nil
		}
	}
	return fmt.Errorf("fake: order %s: %w", req.OrderID, domain.ErrNotFound)
}

func (m *fakeMarket) BestOffers(ctx context.Context, t domain.OfferTarget) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Offer(nil), m.competitor[t.Key()]...)
	for _, o := range m.orders {
		if o.active && o.key == t.Key() {
			out = append(out, domain.Offer{ID: o.id, TokenID: o.token, Price: o.price, Owner: us})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out, nil
}

func (m *fakeMarket) Offers(ctx context.Context, t domain.OfferTarget, buyer string) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOwn {
		return nil, nil
	}
	var out []domain.Offer
	for _, o := range m.orders {
		if o.active && o.key == t.Key() {
			out = append(out, domain.Offer{ID: o.id, TokenID: o.token, Price: o.price, Owner: buyer})
		}
	}
	return out, nil
}

func (m *fakeMarket) UserOffers(ctx context.Context, symbol, buyer string) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Offer(nil), m.userOffers...), nil
}

func (m *fakeMarket) FloorPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.floor, m.floorErr
}

func (m *fakeMarket) BottomListings(ctx context.Context, symbol string, n int) ([]domain.BottomListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.BottomListing(nil), m.listings...)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// activeOrders returns our live orders on key.
func (m *fakeMarket) activeOrders(key string) []order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order
	for _, o := range m.orders {
		if o.active && o.key == key {
			out = append(out, *o)
		}
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *fakeAudit) Log(ctx context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *fakeAudit) count(event string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerter) Notify(ctx context.Context, event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAlerter) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

func itemPolicy() domain.CollectionPolicy {
	return domain.CollectionPolicy{
		Symbol:               "bitmap",
		Chain:                domain.ChainBitcoin,
		OfferType:            domain.OfferTypeItem,
		MinBid:               dec("0.5"),
		MaxBid:               dec("1.05"),
		OutBidMargin:         dec("0.01"),
		BidCount:             10,
		Duration:             30 * time.Minute,
		QuantityCap:          3,
		EnableCounterBidding: true,
		RescanInterval:       time.Minute,
	}
}

type harness struct {
	engine *Engine
	orch   *Orchestrator
	market *fakeMarket
	audit  *fakeAudit
	alerts *fakeAlerter
}

func newHarness(t *testing.T, p domain.CollectionPolicy) *harness {
	t.Helper()
	h := &harness{market: newFakeMarket(), audit: &fakeAudit{}, alerts: &fakeAlerter{}}
	e, err := New([]Binding{{
		Policy: p,
		Wallet: domain.Wallet{Name: "main", PaymentAddress: us, ReceiveAddress: "bc1preceive"},
		Market: h.market,
	}}, Options{
		LockTimeout:    5 * time.Second,
		VerifyAttempts: 2,
		VerifyBackoff:  backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1},
		Audit:          h.audit,
		Alerter:        h.alerts,
	}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	h.orch, _ = e.Orchestrator(p.Symbol)
	return h
}
