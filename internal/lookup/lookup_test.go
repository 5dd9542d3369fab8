package lookup_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thermoline/internal/lookup"
)

func TestClientResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/thermometers/therm-1/asset", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"owner_kind":"TRUCK","owner_name":"ABC-123","thermometer_name":"cargo bay"}`))
	}))
	defer srv.Close()

	client := lookup.NewClient(srv.URL, "secret")
	asset, err := client.Resolve(context.Background(), "therm-1")
	require.NoError(t, err)
	assert.Equal(t, lookup.OwnerTruck, asset.OwnerKind)
	assert.Equal(t, "ABC-123", asset.OwnerName)
	assert.Equal(t, "cargo bay", asset.ThermometerName)
}

func TestClientResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := lookup.NewClient(srv.URL, "")
	_, err := client.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, lookup.ErrNotFound)
}

func TestStaticResolver(t *testing.T) {
	static := lookup.Static{"therm-1": {OwnerKind: lookup.OwnerSite, OwnerName: "Terminal 2"}}
	asset, err := static.Resolve(context.Background(), "therm-1")
	require.NoError(t, err)
	assert.Equal(t, "Terminal 2", asset.OwnerName)
	_, err = static.Resolve(context.Background(), "other")
	assert.ErrorIs(t, err, lookup.ErrNotFound)
}
