package upstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketlens/internal/config"
	"marketlens/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(config.Upstream{
		BaseURL:     srv.URL,
		UserAgent:   "marketlens-test",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryDelay = time.Millisecond
	return c
}

func fakeAPI(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mapping", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "marketlens-test", r.Header.Get("User-Agent"))
		io.WriteString(w, `[
			{"id":4151,"name":"Abyssal whip","members":true,"limit":70,"highalch":72000,"lowalch":48000,"value":120001,"examine":"A weapon from the abyss.","icon":"Abyssal whip.png"},
			{"id":995,"name":"Coins","members":false,"value":1,"examine":"Lovely money!","icon":"Coins_10000.png"}
		]`)
	})
	mux.HandleFunc("GET /latest", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"4151":{"high":1500000,"highTime":1700000000,"low":1480000,"lowTime":1700000100}}}`)
	})
	mux.HandleFunc("GET /5m", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"4151":{"avgHighPrice":1495000,"highPriceVolume":12,"avgLowPrice":null,"lowPriceVolume":0}},"timestamp":1700000000}`)
	})
	mux.HandleFunc("GET /1h", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{},"timestamp":1700000000}`)
	})
	mux.HandleFunc("GET /volumes", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"timestamp":1700000000,"data":{"4151":8123,"995":0}}`)
	})
	mux.HandleFunc("GET /timeseries", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "4151" || r.URL.Query().Get("timestep") != "1h" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		io.WriteString(w, `{"data":[
			{"timestamp":1700000000,"avgHighPrice":1500000,"avgLowPrice":null,"highPriceVolume":3,"lowPriceVolume":0},
			{"timestamp":1700003600,"avgHighPrice":1510000,"avgLowPrice":1490000,"highPriceVolume":5,"lowPriceVolume":7}
		],"itemId":4151}`)
	})
	return mux
}

func TestLoadBuildsRecords(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	recs, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Ordered by id.
	coins, whip := recs[0], recs[1]
	assert.Equal(t, 995, coins.ID)
	assert.Equal(t, 4151, whip.ID)

	assert.Equal(t, "Abyssal whip", whip.Name)
	assert.Equal(t, true, whip.Facts["members"])
	assert.Equal(t, 70.0, whip.Facts["limit"])
	assert.Equal(t, 1500000.0, whip.Facts["high"])
	assert.Equal(t, 1480000.0, whip.Facts["low"])
	assert.Equal(t, 1495000.0, whip.Facts["avgHighPrice5m"])
	assert.Nil(t, whip.Facts["avgLowPrice5m"])
	assert.Equal(t, 12.0, whip.Facts["highPriceVolume5m"])
	assert.Nil(t, whip.Facts["highPriceVolume1h"])
	assert.Equal(t, 8123.0, whip.Facts["volume"])

	// Missing from latest and without alch values.
	assert.Nil(t, coins.Facts["high"])
	assert.Nil(t, coins.Facts["limit"])
	assert.Equal(t, 0.0, coins.Facts["volume"])
}

func TestTimeseries(t *testing.T) {
	c := newTestClient(t, fakeAPI(t))

	pts, err := c.Fetch(context.Background(), 4151, domain.Interval1h)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, int64(1700000000), pts[0].Timestamp)
	assert.Nil(t, pts[0].AvgLowPrice)
	require.NotNil(t, pts[1].AvgLowPrice)
	assert.Equal(t, 1490000.0, *pts[1].AvgLowPrice)
	assert.Equal(t, int64(7), pts[1].LowPriceVolume)

	_, err = c.Timeseries(context.Background(), 4151, domain.Interval("2h"))
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)

	_, err = c.Averages(context.Background(), domain.Interval24h)
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"data":{"2":150}}`)
	}))

	vols, err := c.Volumes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(150), vols[2])
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such item", http.StatusNotFound)
	}))

	_, err := c.Timeseries(context.Background(), 1, domain.Interval5m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMalformedIDKey(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{"abc":1}}`)
	}))
	_, err := c.Volumes(context.Background())
	assert.Error(t, err)
}

func TestLoadFailsWhenAnyEndpointFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/", fakeAPI(t))
	broken := http.NewServeMux()
	broken.HandleFunc("GET /volumes", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	broken.Handle("/", mux)

	c := newTestClient(t, broken)
	_, err := c.Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "volumes")
}
