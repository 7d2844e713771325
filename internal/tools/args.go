package tools

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// defaultStoreAliases maps the chain names people type to Kassalapp codes.
var defaultStoreAliases = map[string]string{
	"MENY": "MENY_NO",
	"SPAR": "SPAR_NO",
	"REMA": "REMA_1000",
}

const (
	defaultProductSize = 10
	defaultStoreSize   = 20
	maxPageSize        = 100
	defaultSort        = "price_asc"
)

var validSorts = []string{"price_asc", "price_desc", "name_asc", "name_desc", "date_asc", "date_desc"}

// ProductSearchArgs are the normalized arguments of search_products.
type ProductSearchArgs struct {
	Search string `json:"search"`
	Store  string `json:"store,omitempty"`
	Size   int    `json:"size"`
	Sort   string `json:"sort"`
}

// StoreSearchArgs are the normalized arguments of search_physical_stores.
type StoreSearchArgs struct {
	Search string  `json:"search,omitempty"`
	Group  string  `json:"group,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lng    float64 `json:"lng,omitempty"`
	Km     int     `json:"km,omitempty"`
	Size   int     `json:"size"`
}

// IDArgs identify a product or physical store.
type IDArgs struct {
	ID int `json:"id"`
}

// EANArgs identify a product by barcode.
type EANArgs struct {
	EAN string `json:"ean"`
}

// URLArgs name a product page on an online grocery store.
type URLArgs struct {
	URL string `json:"url"`
}

// normalizer turns loose model arguments into typed ones.
type normalizer struct {
	aliases map[string]string
}

func newNormalizer(extra map[string]string) normalizer {
	aliases := maps.Clone(defaultStoreAliases)
	for k, v := range extra {
		aliases[strings.ToUpper(k)] = strings.ToUpper(v)
	}
	return normalizer{aliases: aliases}
}

func (n normalizer) products(args map[string]any) ProductSearchArgs {
	out := ProductSearchArgs{
		Search: strings.TrimSpace(firstString(args, "search", "search_query", "query")),
		Store:  n.chain(firstString(args, "store")),
		Size:   pageSize(args["size"], defaultProductSize),
		Sort:   strings.ToLower(strings.TrimSpace(firstString(args, "sort"))),
	}
	if !slices.Contains(validSorts, out.Sort) {
		out.Sort = defaultSort
	}
	return out
}

func (n normalizer) stores(args map[string]any) StoreSearchArgs {
	out := StoreSearchArgs{
		Search: strings.TrimSpace(firstString(args, "search", "location", "query")),
		Group:  n.chain(firstString(args, "group")),
		Size:   pageSize(args["size"], defaultStoreSize),
	}
	out.Lat, _ = toFloat(args["lat"])
	out.Lng, _ = toFloat(args["lng"])
	if km, ok := toInt(args["km"]); ok && km > 0 {
		out.Km = km
	}
	return out
}

func (n normalizer) chain(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if alias, ok := n.aliases[v]; ok {
		return alias
	}
	return v
}

func idArg(args map[string]any, keys ...string) IDArgs {
	for _, k := range keys {
		if id, ok := toInt(args[k]); ok {
			return IDArgs{ID: id}
		}
	}
	return IDArgs{}
}

// firstString returns the first non-empty value among keys, rendering
// numbers as text so an EAN sent as a JSON number survives.
func firstString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := args[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// pageSize coerces a size argument, falling back to def for missing,
// non-numeric or non-positive values and capping at the API maximum.
func pageSize(v any, def int) int {
	n, ok := toInt(v)
	if !ok || n <= 0 {
		return def
	}
	return min(n, maxPageSize)
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("tools: invalid schema: %v", err))
	}
	return s
}

// validate checks normalized arguments against a tool's schema. It returns
// the offending fields and a readable summary, both empty when valid.
func validate(s *gojsonschema.Schema, args any) (fields []string, summary string) {
	res, err := s.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return []string{"(root)"}, err.Error()
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		fields = append(fields, e.Field())
		msgs = append(msgs, e.String())
	}
	return fields, strings.Join(msgs, "; ")
}
