package crypto

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Well-known development key (hardhat account #0).
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

const typedData = `{
	"types": {
		"EIP712Domain": [{"name":"name","type":"string"},{"name":"chainId","type":"uint256"}],
		"Bid": [{"name":"maker","type":"address"},{"name":"price","type":"uint256"}]
	},
	"primaryType": "Bid",
	"domain": {"name":"Test","chainId":"0x1"},
	"message": {"maker":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266","price":"1000"}
}`

func TestEVMSignerRecoversAddress(t *testing.T) {
	s, err := NewEVMSigner("0x" + devKey)
	if err != nil {
		t.Fatalf("NewEVMSigner: %v", err)
	}
	if s.Address() != devAddress {
		t.Fatalf("Address = %s, want %s", s.Address(), devAddress)
	}

	sigHex, err := s.Sign(context.Background(), domain.SignEIP712, json.RawMessage(typedData))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		t.Fatalf("signature %q: %v", sigHex, err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d, want 27 or 28", sig[64])
	}

	var td apitypes.TypedData
	_ = json.Unmarshal([]byte(typedData), &td)
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := ethcrypto.PubkeyToAddress(*pub).Hex(); got != devAddress {
		t.Errorf("recovered %s, want %s", got, devAddress)
	}
}

func TestEVMSignerRejectsPSBT(t *testing.T) {
	s, _ := NewEVMSigner(devKey)
	if _, err := s.Sign(context.Background(), domain.SignPSBT, json.RawMessage(`{}`)); !errors.Is(err, domain.ErrSigningFailed) {
		t.Fatalf("err = %v, want ErrSigningFailed", err)
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	data, err := EncryptKey(devKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadEVMSigner(KeySource{KeyFile: path, Password: "hunter2"})
	if err != nil {
		t.Fatalf("LoadEVMSigner: %v", err)
	}
	if s.Address() != devAddress {
		t.Errorf("Address = %s", s.Address())
	}
	if _, err := LoadEVMSigner(KeySource{KeyFile: path, Password: "wrong"}); err == nil {
		t.Error("wrong password accepted")
	}
	if _, err := LoadEVMSigner(KeySource{}); err == nil {
		t.Error("empty source accepted")
	}
}

func TestRemotePSBTSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sign" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req signRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Address != "bc1qus" || req.Kind != domain.SignPSBT {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"signed":"c2lnbmVk"}`))
	}))
	defer srv.Close()

	s, err := NewRemotePSBTSigner(RemoteConfig{URL: srv.URL, Address: "bc1qus", Token: "tok"})
	if err != nil {
		t.Fatalf("NewRemotePSBTSigner: %v", err)
	}
	got, err := s.Sign(context.Background(), domain.SignPSBT, json.RawMessage(`{"psbtBase64":"cHNidA=="}`))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got != "c2lnbmVk" {
		t.Errorf("signed = %q", got)
	}

	bad, _ := NewRemotePSBTSigner(RemoteConfig{URL: srv.URL, Address: "bc1qus"})
	if _, err := bad.Sign(context.Background(), domain.SignPSBT, json.RawMessage(`{}`)); !errors.Is(err, domain.ErrSigningFailed) {
		t.Errorf("unauthorized err = %v, want ErrSigningFailed", err)
	}
}
