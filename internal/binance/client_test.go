package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const fiveMinutes = int64(5 * 60 * 1000)

func klineRow(openMs int64, open, high, low, close, volume string) string {
	return fmt.Sprintf(`[%d,%q,%q,%q,%q,%q,%d,"0",10,"0","0","0"]`,
		openMs, open, high, low, close, volume, openMs+fiveMinutes-1)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	c := NewClient(ClientConfig{
		BaseURL:        server.URL,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
	return c, &calls
}

func TestFetchBars(t *testing.T) {
	start := int64(1704067200000) // 2024-01-01T00:00:00Z
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "5m" || q.Get("limit") != "2" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		rows := []string{
			klineRow(start, "42000.10", "42100.00", "41950.50", "42050.25", "12.5"),
			klineRow(start+fiveMinutes, "42050.25", "42200.00", "42000.00", "42180.00", "20.125"),
		}
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	})

	bars, err := c.FetchBars(context.Background(), "BTCUSDT", "5m", 2)
	if err != nil {
		t.Fatalf("FetchBars() error = %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}

	b := bars[1]
	if b.Open != 42050.25 || b.High != 42200 || b.Low != 42000 || b.Close != 42180 || b.Volume != 20.125 {
		t.Errorf("unexpected bar values: %+v", b)
	}
	wantOpen := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	if !b.OpenTime.Equal(wantOpen) {
		t.Errorf("OpenTime = %v, want %v", b.OpenTime, wantOpen)
	}
	if !b.CloseTime.After(b.OpenTime) {
		t.Errorf("CloseTime %v should follow OpenTime %v", b.CloseTime, b.OpenTime)
	}
}

func TestFetchBarsAPIErrorNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := c.FetchBars(context.Background(), "NOPE", "5m", 10)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("FetchBars() error = %v, want ErrFetch", err)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("API error was retried: %d calls", got)
	}
}

func TestFetchBarsRetriesGatewayErrors(t *testing.T) {
	var attempts int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, "[%s]", klineRow(1704067200000, "1", "2", "0.5", "1.5", "100"))
	})

	bars, err := c.FetchBars(context.Background(), "ETHUSDT", "5m", 1)
	if err != nil {
		t.Fatalf("FetchBars() error = %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("got %d bars, want 1", len(bars))
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchBarsGivesUpAfterMaxRetries(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := c.FetchBars(context.Background(), "ETHUSDT", "5m", 1); !errors.Is(err, ErrFetch) {
		t.Fatalf("FetchBars() error = %v, want ErrFetch", err)
	}
	if got := atomic.LoadInt32(calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchBarsMalformedRows(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non-numeric price", fmt.Sprintf("[%s]", klineRow(1704067200000, "abc", "2", "1", "1.5", "10"))},
		{"high below low", fmt.Sprintf("[%s]", klineRow(1704067200000, "1", "1", "2", "1.5", "10"))},
		{"descending open times", fmt.Sprintf("[%s,%s]",
			klineRow(1704067200000+fiveMinutes, "1", "2", "1", "1.5", "10"),
			klineRow(1704067200000, "1", "2", "1", "1.5", "10"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			if _, err := c.FetchBars(context.Background(), "BTCUSDT", "5m", 2); !errors.Is(err, ErrFetch) {
				t.Errorf("FetchBars() error = %v, want ErrFetch", err)
			}
		})
	}
}

func TestFetchBarsContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.FetchBars(ctx, "BTCUSDT", "5m", 2); !errors.Is(err, ErrFetch) {
		t.Errorf("FetchBars() error = %v, want ErrFetch", err)
	}
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ping" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "{}")
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(ClientConfig{Testnet: true})
	if c.api.BaseURL != testnetURL {
		t.Errorf("BaseURL = %q, want testnet", c.api.BaseURL)
	}
	if c.maxRetries != 3 || c.retryDelayBase != time.Second {
		t.Errorf("defaults not applied: retries=%d delay=%v", c.maxRetries, c.retryDelayBase)
	}
	if c.api.HTTPClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.api.HTTPClient.Timeout)
	}
}
