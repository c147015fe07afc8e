package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pricebot/pkg/logx"
)

func newTestSource(t *testing.T, blockchainBody, coingeckoBody string, blockchainStatus, coingeckoStatus int) *Source {
	t.Helper()
	bc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(blockchainStatus)
		_, _ = w.Write([]byte(blockchainBody))
	}))
	t.Cleanup(bc.Close)
	cg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(coingeckoStatus)
		_, _ = w.Write([]byte(coingeckoBody))
	}))
	t.Cleanup(cg.Close)

	return NewSource(SourceConfig{
		Currencies:    []string{"USD", "EUR"},
		BlockchainURL: bc.URL,
		CoinGeckoURL:  cg.URL,
		FetchTimeout:  2 * time.Second,
	}, logx.Nop())
}

func TestFetchBestPrimaryWins(t *testing.T) {
	t.Parallel()
	s := newTestSource(t,
		`{"USD":{"last":64234.6},"EUR":{"last":59000.2},"JPY":{"last":1}}`,
		`{"bitcoin":{"usd":1,"eur":1}}`,
		http.StatusOK, http.StatusOK)

	got, err := s.FetchBest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got["usd"] != 64235 || got["eur"] != 59000 {
		t.Fatalf("got %v, want rounded primary prices", got)
	}
	if _, ok := got["jpy"]; ok {
		t.Fatal("unsupported currency leaked through")
	}
}

func TestFetchBestFallsBackOnPrimaryError(t *testing.T) {
	t.Parallel()
	s := newTestSource(t,
		`oops`,
		`{"bitcoin":{"usd":50000}}`,
		http.StatusInternalServerError, http.StatusOK)

	got, err := s.FetchBest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got["usd"] != 50000 {
		t.Fatalf("got %v, want fallback data", got)
	}
}

func TestFetchBestFallsBackOnEmptyPrimary(t *testing.T) {
	t.Parallel()
	// Valid JSON but no supported currencies: counts as primary failure.
	s := newTestSource(t,
		`{"JPY":{"last":1}}`,
		`{"bitcoin":{"usd":50000}}`,
		http.StatusOK, http.StatusOK)

	got, err := s.FetchBest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got["usd"] != 50000 {
		t.Fatalf("got %v, want fallback data", got)
	}
}

func TestFetchBestBothFail(t *testing.T) {
	t.Parallel()
	s := newTestSource(t, `bad`, `{"litecoin":{}}`, http.StatusBadGateway, http.StatusOK)

	if _, err := s.FetchBest(context.Background()); !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}
