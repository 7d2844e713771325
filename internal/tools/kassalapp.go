package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/kassa/internal/kassalapp"
	"github.com/soyeahso/kassa/internal/logging"
)

// Tool names.
const (
	SearchProducts       = "search_products"
	GetProductByID       = "get_product_by_id"
	GetProductByEAN      = "get_product_by_ean"
	SearchPhysicalStores = "search_physical_stores"
	GetPhysicalStore     = "get_physical_store"
	ComparePricesByURL   = "compare_prices_by_url"
)

// API is the subset of the Kassalapp client the tools call.
type API interface {
	SearchProducts(ctx context.Context, q kassalapp.ProductQuery) (*kassalapp.Page[kassalapp.Product], error)
	ProductByID(ctx context.Context, id int) (json.RawMessage, error)
	ProductByEAN(ctx context.Context, ean string) (json.RawMessage, error)
	SearchStores(ctx context.Context, q kassalapp.StoreQuery) (*kassalapp.Page[kassalapp.PhysicalStore], error)
	StoreByID(ctx context.Context, id int) (json.RawMessage, error)
	CompareByURL(ctx context.Context, productURL string) (json.RawMessage, error)
}

// Options tune argument normalization.
type Options struct {
	// StoreAliases extends the built-in MENY, SPAR and REMA aliases. Keys
	// and values are upper-cased.
	StoreAliases map[string]string
}

// Catalog returns every Kassalapp tool in declaration order.
func Catalog(api API, opts Options) []Tool {
	norm := newNormalizer(opts.StoreAliases)
	return []Tool{
		&productSearch{api: api, norm: norm},
		&productByID{api: api},
		&productByEAN{api: api},
		&storeSearch{api: api, norm: norm},
		&storeByID{api: api},
		&compareByURL{api: api},
	}
}

// New builds a registry holding the enabled tools in catalog order.
func New(api API, opts Options, enabled []string, log *logging.Logger) (*Registry, error) {
	all := Catalog(api, opts)
	known := make(map[string]bool, len(all))
	for _, t := range all {
		known[t.Name()] = true
	}
	for _, name := range enabled {
		if !known[name] {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
	}

	reg := NewRegistry(log)
	for _, t := range all {
		if slices.Contains(enabled, t.Name()) {
			reg.Register(t)
		}
	}
	return reg, nil
}

// ProductSummary is the projection of a product handed to the model.
type ProductSummary struct {
	Name  string   `json:"name"`
	Brand string   `json:"brand"`
	Price *float64 `json:"price"`
	Store *string  `json:"store"`
	EAN   string   `json:"ean"`
}

// StoreSummary is the projection of a physical store handed to the model.
type StoreSummary struct {
	Name    string `json:"name"`
	Group   string `json:"group"`
	Address string `json:"address"`
	ID      int    `json:"id"`
}

type dataPayload[T any] struct {
	Data []T `json:"data"`
}

// --- search_products ---

var productSearchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"search": {"type": "string", "description": "The product name (min 3 chars)."},
		"store": {"type": "string", "description": "Store filter: KIWI, REMA_1000, MENY_NO, SPAR_NO, etc."}
	},
	"required": ["search"]
}`)

var productSearchSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"search": {"type": "string", "minLength": 3},
		"store": {"type": "string"},
		"size": {"type": "integer", "minimum": 1, "maximum": 100},
		"sort": {"enum": ["price_asc", "price_desc", "name_asc", "name_desc", "date_asc", "date_desc"]}
	},
	"required": ["search", "size", "sort"]
}`)

type productSearch struct {
	api  API
	norm normalizer
}

func (t *productSearch) Name() string { return SearchProducts }

func (t *productSearch) Description() string {
	return "Search for groceries and products to find the price and store. " +
		"Use the 'store' parameter to filter by a specific store (KIWI, REMA_1000, MENY_NO, SPAR_NO, etc.)."
}

func (t *productSearch) Parameters() json.RawMessage { return productSearchParams }

func (t *productSearch) Execute(ctx context.Context, raw map[string]any) any {
	args := t.norm.products(raw)
	if fields, summary := validate(productSearchSchema, args); len(fields) > 0 {
		if slices.Contains(fields, "search") {
			return Failure{Error: "Invalid search", Message: "Search must be at least 3 characters."}
		}
		return Failure{Error: summary, Message: "Invalid tool arguments"}
	}

	page, err := t.api.SearchProducts(ctx, kassalapp.ProductQuery{
		Search: args.Search,
		Size:   args.Size,
		Sort:   args.Sort,
		Store:  args.Store,
	})
	if err != nil {
		return Failure{Error: err.Error(), Message: "Failed to fetch products"}
	}
	if !page.HasData {
		return page.Raw
	}

	out := dataPayload[ProductSummary]{Data: make([]ProductSummary, 0, len(page.Data))}
	for _, p := range page.Data {
		s := ProductSummary{Name: p.Name, Brand: p.Brand, Price: p.CurrentPrice, EAN: p.EAN}
		if p.Store != nil {
			name := p.Store.Name
			s.Store = &name
		}
		out.Data = append(out.Data, s)
	}
	return out
}

// --- search_physical_stores ---

var storeSearchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"search": {"type": "string", "description": "City or location name."},
		"group": {"type": "string", "description": "Chain name (e.g. KIWI, REMA_1000, COOP_NO, MENY_NO)."}
	}
}`)

var storeSearchSchema = mustSchema(`{
	"type": "object",
	"properties": {
		"search": {"type": "string"},
		"group": {"type": "string"},
		"lat": {"type": "number", "minimum": -90, "maximum": 90},
		"lng": {"type": "number", "minimum": -180, "maximum": 180},
		"km": {"type": "integer", "minimum": 0},
		"size": {"type": "integer", "minimum": 1, "maximum": 100}
	},
	"required": ["size"]
}`)

type storeSearch struct {
	api  API
	norm normalizer
}

func (t *storeSearch) Name() string { return SearchPhysicalStores }

func (t *storeSearch) Description() string {
	return "Find grocery stores by location, name, or chain (group)."
}

func (t *storeSearch) Parameters() json.RawMessage { return storeSearchParams }

func (t *storeSearch) Execute(ctx context.Context, raw map[string]any) any {
	args := t.norm.stores(raw)
	if fields, summary := validate(storeSearchSchema, args); len(fields) > 0 {
		return Failure{Error: summary, Message: "Invalid tool arguments"}
	}

	page, err := t.api.SearchStores(ctx, kassalapp.StoreQuery{
		Search: args.Search,
		Group:  args.Group,
		Lat:    args.Lat,
		Lng:    args.Lng,
		Km:     args.Km,
		Size:   args.Size,
	})
	if err != nil {
		return Failure{Error: err.Error(), Message: "Failed to find stores"}
	}
	if !page.HasData {
		return page.Raw
	}

	out := dataPayload[StoreSummary]{Data: make([]StoreSummary, 0, len(page.Data))}
	for _, s := range page.Data {
		out.Data = append(out.Data, StoreSummary{Name: s.Name, Group: s.Group, Address: s.Address, ID: s.ID})
	}
	return out
}

// --- lookups ---

var idSchema = mustSchema(`{
	"type": "object",
	"properties": {"id": {"type": "integer", "minimum": 1}},
	"required": ["id"]
}`)

var eanSchema = mustSchema(`{
	"type": "object",
	"properties": {"ean": {"type": "string", "pattern": "^[0-9]{8,14}$"}},
	"required": ["ean"]
}`)

var urlSchema = mustSchema(`{
	"type": "object",
	"properties": {"url": {"type": "string", "pattern": "^https?://"}},
	"required": ["url"]
}`)

type productByID struct{ api API }

func (t *productByID) Name() string { return GetProductByID }

func (t *productByID) Description() string {
	return "Get full details and price history for one product by its Kassalapp id."
}

func (t *productByID) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer","description":"Kassalapp product id."}},"required":["id"]}`)
}

func (t *productByID) Execute(ctx context.Context, raw map[string]any) any {
	args := idArg(raw, "id", "product", "product_id")
	if fields, summary := validate(idSchema, args); len(fields) > 0 {
		return Failure{Error: summary, Message: "Invalid tool arguments"}
	}
	body, err := t.api.ProductByID(ctx, args.ID)
	if err != nil {
		return Failure{Error: err.Error(), Message: fmt.Sprintf("Failed to fetch product %d", args.ID)}
	}
	return body
}

type productByEAN struct{ api API }

func (t *productByEAN) Name() string { return GetProductByEAN }

func (t *productByEAN) Description() string {
	return "Compare the price of one product across all stores by its EAN barcode."
}

func (t *productByEAN) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"ean":{"type":"string","description":"EAN-13 or EAN-8 barcode."}},"required":["ean"]}`)
}

func (t *productByEAN) Execute(ctx context.Context, raw map[string]any) any {
	args := EANArgs{EAN: strings.TrimSpace(firstString(raw, "ean", "barcode"))}
	if fields, summary := validate(eanSchema, args); len(fields) > 0 {
		return Failure{Error: summary, Message: "Invalid tool arguments"}
	}
	body, err := t.api.ProductByEAN(ctx, args.EAN)
	if err != nil {
		return Failure{Error: err.Error(), Message: "Failed to fetch product EAN " + args.EAN}
	}
	return body
}

type storeByID struct{ api API }

func (t *storeByID) Name() string { return GetPhysicalStore }

func (t *storeByID) Description() string {
	return "Get address, opening hours and contact details for one store by id."
}

func (t *storeByID) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer","description":"Physical store id from search_physical_stores."}},"required":["id"]}`)
}

func (t *storeByID) Execute(ctx context.Context, raw map[string]any) any {
	args := idArg(raw, "id", "physicalStore", "store_id")
	if fields, summary := validate(idSchema, args); len(fields) > 0 {
		return Failure{Error: summary, Message: "Invalid tool arguments"}
	}
	body, err := t.api.StoreByID(ctx, args.ID)
	if err != nil {
		return Failure{Error: err.Error(), Message: fmt.Sprintf("Failed to fetch store %d", args.ID)}
	}
	return body
}

type compareByURL struct{ api API }

func (t *compareByURL) Name() string { return ComparePricesByURL }

func (t *compareByURL) Description() string {
	return "Compare prices for a product given the URL of its page in an online grocery store."
}

func (t *compareByURL) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"Product page URL."}},"required":["url"]}`)
}

func (t *compareByURL) Execute(ctx context.Context, raw map[string]any) any {
	args := URLArgs{URL: strings.TrimSpace(firstString(raw, "url", "product_url"))}
	if fields, summary := validate(urlSchema, args); len(fields) > 0 {
		return Failure{Error: summary, Message: "Invalid tool arguments"}
	}
	body, err := t.api.CompareByURL(ctx, args.URL)
	if err != nil {
		return Failure{Error: err.Error(), Message: "Failed to compare prices"}
	}
	return body
}
