package clientinfo

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCities struct {
	city *geoip2.City
	err  error
}

func (f fakeCities) City(net.IP) (*geoip2.City, error) { return f.city, f.err }

func serveIP(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLookupJSONAndPlain(t *testing.T) {
	t.Parallel()

	r, err := New(Config{IPEndpoint: serveIP(t, http.StatusOK, `{"ip":"203.0.113.7"}`)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", r.Lookup(context.Background()).IP)

	r, err = New(Config{IPEndpoint: serveIP(t, http.StatusOK, "198.51.100.2\n")}, nil)
	require.NoError(t, err)
	info := r.Lookup(context.Background())
	assert.Equal(t, "198.51.100.2", info.IP)
	assert.Nil(t, info.Geo)
	require.NoError(t, r.Close())
}

func TestLookupDegradesOnFailure(t *testing.T) {
	t.Parallel()

	r, err := New(Config{IPEndpoint: serveIP(t, http.StatusServiceUnavailable, "")}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Lookup(context.Background()).IP)

	r, err = New(Config{IPEndpoint: serveIP(t, http.StatusOK, "<html>captive portal</html>")}, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Lookup(context.Background()).IP)
}

func TestLookupWithGeo(t *testing.T) {
	t.Parallel()

	city := &geoip2.City{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"City": {"Names": {"en": "Tempe"}},
		"Country": {"Names": {"en": "United States"}, "IsoCode": "US"},
		"Location": {"TimeZone": "America/Phoenix", "Latitude": 33.4, "Longitude": -111.9},
		"Subdivisions": [{"Names": {"en": "Arizona"}}]
	}`), city))

	r, err := New(Config{IPEndpoint: serveIP(t, http.StatusOK, `{"ip":"203.0.113.7"}`)}, nil)
	require.NoError(t, err)
	r.geo = fakeCities{city: city}

	info := r.Lookup(context.Background())
	require.NotNil(t, info.Geo)
	assert.Equal(t, "Tempe", info.Geo.City)
	assert.Equal(t, "Arizona", info.Geo.Region)
	assert.Equal(t, "US", info.Geo.CountryCode)
	assert.InDelta(t, -111.9, info.Geo.Longitude, 0.001)

	r.geo = fakeCities{err: errors.New("corrupt")}
	info = r.Lookup(context.Background())
	assert.Equal(t, "203.0.113.7", info.IP)
	assert.Nil(t, info.Geo)
}

func TestNewMissingGeoDB(t *testing.T) {
	t.Parallel()

	_, err := New(Config{GeoIPDB: filepath.Join(t.TempDir(), "missing.mmdb")}, nil)
	require.Error(t, err)
}
