package evm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// weiExp is the exponent between wei and ETH.
const weiExp = 18

// wei is an integer amount in the chain's base unit, decoded from a JSON
// string or number.
type wei struct {
	decimal.Decimal
}

func (w *wei) UnmarshalJSON(data []byte) error {
	str := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if str == "" || str == "null" {
		w.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return fmt.Errorf("evm: wei amount %q: %w", str, err)
	}
	w.Decimal = d
	return nil
}

// ETH converts to the display unit.
func (w wei) ETH() decimal.Decimal {
	return w.Shift(-weiExp)
}

// toWei converts a display amount to a base-unit integer string.
func toWei(eth decimal.Decimal) string {
	return eth.Shift(weiExp).RoundFloor(0).String()
}

// --------------------------------------------------------------------------
// API DTOs
// --------------------------------------------------------------------------

type apiPrice struct {
	Amount struct {
		Raw wei `json:"raw"`
	} `json:"amount"`
}

type apiCollections struct {
	Collections []struct {
		ID       string `json:"id"`
		FloorAsk struct {
			Price *apiPrice `json:"price"`
		} `json:"floorAsk"`
	} `json:"collections"`
}

type apiTokens struct {
	Tokens []struct {
		Token struct {
			TokenID string `json:"tokenId"`
		} `json:"token"`
		Market struct {
			FloorAsk struct {
				Price *apiPrice `json:"price"`
			} `json:"floorAsk"`
		} `json:"market"`
	} `json:"tokens"`
}

// apiBid is one standing bid. Expiration is unix seconds.
type apiBid struct {
	ID         string   `json:"id"`
	Maker      string   `json:"maker"`
	Price      apiPrice `json:"price"`
	Expiration int64    `json:"expiration"`
	Criteria   struct {
		Kind string `json:"kind"`
		Data struct {
			Token struct {
				TokenID string `json:"tokenId"`
			} `json:"token"`
		} `json:"data"`
	} `json:"criteria"`
}

type apiBids struct {
	Orders       []apiBid `json:"orders"`
	Continuation string   `json:"continuation"`
}

func (b apiBid) toDomain() domain.Offer {
	o := domain.Offer{
		ID:      b.ID,
		TokenID: b.Criteria.Data.Token.TokenID,
		Price:   b.Price.Amount.Raw.ETH(),
		Owner:   b.Maker,
	}
	if b.Expiration > 0 {
		o.ExpiresAt = time.Unix(b.Expiration, 0).UTC()
	}
	return o
}

// bidRequest is the body of the execute-bid call.
type bidRequest struct {
	Maker  string      `json:"maker"`
	Source string      `json:"source,omitempty"`
	Params []bidParams `json:"params"`
}

type bidParams struct {
	Token          string `json:"token,omitempty"`
	Collection     string `json:"collection,omitempty"`
	WeiPrice       string `json:"weiPrice"`
	OrderKind      string `json:"orderKind"`
	Orderbook      string `json:"orderbook"`
	Currency       string `json:"currency,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	ExpirationTime string `json:"expirationTime"`
}

type cancelRequest struct {
	OrderIDs []string `json:"orderIds"`
}

// apiSteps is the execute response: a list of steps the maker completes in
// order. Only signature steps are supported; transaction steps would need
// on-chain settlement.
type apiSteps struct {
	Steps []apiStep `json:"steps"`
}

type apiStep struct {
	ID    string        `json:"id"`
	Kind  string        `json:"kind"`
	Items []apiStepItem `json:"items"`
}

type apiStepItem struct {
	Status string `json:"status"`
	Data   struct {
		Sign *apiSign `json:"sign"`
		Post *apiPost `json:"post"`
	} `json:"data"`
}

type apiSign struct {
	SignatureKind string                     `json:"signatureKind"`
	Domain        apiSignDomain              `json:"domain"`
	Types         map[string][]apitypes.Type `json:"types"`
	Value         map[string]any             `json:"value"`
	PrimaryType   string                     `json:"primaryType"`
}

type apiSignDomain struct {
	Name              string      `json:"name"`
	Version           string      `json:"version"`
	ChainID           json.Number `json:"chainId"`
	VerifyingContract string      `json:"verifyingContract"`
}

// apiPost tells the maker where to send the signature.
type apiPost struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Body     json.RawMessage `json:"body"`
}

type apiPostResult struct {
	OrderID string `json:"orderId"`
	Results []struct {
		OrderID string `json:"orderId"`
		Message string `json:"message"`
	} `json:"results"`
}

func (r apiPostResult) orderID() string {
	if r.OrderID != "" {
		return r.OrderID
	}
	for _, res := range r.Results {
		if res.OrderID != "" {
			return res.OrderID
		}
	}
	return ""
}

// signatureStep returns the first incomplete step that asks for an EIP-712
// signature.
func (s apiSteps) signatureStep() (*apiSign, *apiPost, error) {
	for _, step := range s.Steps {
		for _, item := range step.Items {
			if item.Status == "complete" {
				continue
			}
			if step.Kind == "transaction" {
				return nil, nil, fmt.Errorf("evm: step %s needs an on-chain transaction: %w", step.ID, domain.ErrInvalidOffer)
			}
			if step.Kind == "signature" && item.Data.Sign != nil && item.Data.Post != nil {
				return item.Data.Sign, item.Data.Post, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("evm: no signature step in response: %w", domain.ErrInvalidOffer)
}

// typedData converts the marketplace's sign request into the go-ethereum
// typed-data form the signer hashes.
func (s *apiSign) typedData() (apitypes.TypedData, error) {
	if s.SignatureKind != "" && s.SignatureKind != "eip712" {
		return apitypes.TypedData{}, fmt.Errorf("evm: signature kind %q: %w", s.SignatureKind, domain.ErrInvalidOffer)
	}
	chainID, err := s.Domain.ChainID.Int64()
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("evm: chain id %q: %w", s.Domain.ChainID, err)
	}

	types := apitypes.Types{}
	for name, fields := range s.Types {
		types[name] = fields
	}
	if _, ok := types["EIP712Domain"]; !ok {
		var dom []apitypes.Type
		if s.Domain.Name != "" {
			dom = append(dom, apitypes.Type{Name: "name", Type: "string"})
		}
		if s.Domain.Version != "" {
			dom = append(dom, apitypes.Type{Name: "version", Type: "string"})
		}
		dom = append(dom, apitypes.Type{Name: "chainId", Type: "uint256"})
		if s.Domain.VerifyingContract != "" {
			dom = append(dom, apitypes.Type{Name: "verifyingContract", Type: "address"})
		}
		types["EIP712Domain"] = dom
	}

	primary := s.PrimaryType
	if primary == "" {
		for name := range s.Types {
			if name == "EIP712Domain" {
				continue
			}
			if primary != "" {
				return apitypes.TypedData{}, fmt.Errorf("evm: ambiguous primary type: %w", domain.ErrInvalidOffer)
			}
			primary = name
		}
	}

	return apitypes.TypedData{
		Types:       types,
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              s.Domain.Name,
			Version:           s.Domain.Version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: s.Domain.VerifyingContract,
		},
		Message: s.Value,
	}, nil
}
