package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/kassa/internal/kassalapp"
)

type fakeVerifyAPI struct {
	products    *kassalapp.Page[kassalapp.Product]
	productsErr error
	stores      *kassalapp.Page[kassalapp.PhysicalStore]
	storesErr   error

	productQuery kassalapp.ProductQuery
	storeQuery   kassalapp.StoreQuery
}

func (f *fakeVerifyAPI) SearchProducts(_ context.Context, q kassalapp.ProductQuery) (*kassalapp.Page[kassalapp.Product], error) {
	f.productQuery = q
	return f.products, f.productsErr
}

func (f *fakeVerifyAPI) SearchStores(_ context.Context, q kassalapp.StoreQuery) (*kassalapp.Page[kassalapp.PhysicalStore], error) {
	f.storeQuery = q
	return f.stores, f.storesErr
}

func TestRunVerify(t *testing.T) {
	api := &fakeVerifyAPI{
		products: &kassalapp.Page[kassalapp.Product]{HasData: true, Data: []kassalapp.Product{{Name: "Tine Lettmelk 1L"}}},
		stores:   &kassalapp.Page[kassalapp.PhysicalStore]{HasData: true, Data: []kassalapp.PhysicalStore{{Name: "Kiwi Grønland"}}},
	}
	var out bytes.Buffer

	require.NoError(t, runVerify(context.Background(), &out, api))
	assert.Equal(t, kassalapp.ProductQuery{Search: "melk", Size: 1}, api.productQuery)
	assert.Equal(t, kassalapp.StoreQuery{Search: "Oslo", Size: 1}, api.storeQuery)
	assert.Contains(t, out.String(), "OK   product search\n     Tine Lettmelk 1L")
	assert.Contains(t, out.String(), "OK   store search\n     Kiwi Grønland")
}

func TestRunVerifyFailures(t *testing.T) {
	api := &fakeVerifyAPI{
		productsErr: &kassalapp.APIError{Status: 401},
		stores:      &kassalapp.Page[kassalapp.PhysicalStore]{Raw: json.RawMessage(`{"message":"Unauthenticated."}`)},
	}
	var out bytes.Buffer

	err := runVerify(context.Background(), &out, api)
	assert.EqualError(t, err, "2 of 2 checks failed")
	assert.Contains(t, out.String(), "FAIL product search")
	assert.Contains(t, out.String(), `FAIL store search: unexpected response {"message":"Unauthenticated."}`)
}

func TestRunVerifyStoreError(t *testing.T) {
	api := &fakeVerifyAPI{
		products:  &kassalapp.Page[kassalapp.Product]{HasData: true},
		storesErr: errors.New("connection refused"),
	}
	var out bytes.Buffer

	err := runVerify(context.Background(), &out, api)
	assert.EqualError(t, err, "1 of 2 checks failed")
	assert.Contains(t, out.String(), "OK   product search")
	assert.Contains(t, out.String(), "FAIL store search: connection refused")
}
