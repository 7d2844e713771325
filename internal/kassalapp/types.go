package kassalapp

import "encoding/json"

// Product is a grocery product as returned by the products endpoints.
type Product struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Brand            string    `json:"brand,omitempty"`
	Vendor           string    `json:"vendor,omitempty"`
	EAN              string    `json:"ean,omitempty"`
	URL              string    `json:"url,omitempty"`
	Image            string    `json:"image,omitempty"`
	Description      string    `json:"description,omitempty"`
	CurrentPrice     *float64  `json:"current_price"`
	CurrentUnitPrice *float64  `json:"current_unit_price,omitempty"`
	Store            *StoreRef `json:"store"`
}

// StoreRef is the chain a product price belongs to.
type StoreRef struct {
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
	URL  string `json:"url,omitempty"`
	Logo string `json:"logo,omitempty"`
}

// PhysicalStore is a single grocery store location.
type PhysicalStore struct {
	ID       int       `json:"id"`
	Group    string    `json:"group"`
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Phone    string    `json:"phone,omitempty"`
	Email    string    `json:"email,omitempty"`
	Website  string    `json:"website,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// Position is a WGS84 coordinate.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Page is a list response. When the upstream body has no "data" field,
// HasData is false and Raw holds the body verbatim.
type Page[T any] struct {
	Data    []T             `json:"data"`
	HasData bool            `json:"-"`
	Raw     json.RawMessage `json:"-"`
}

// ProductQuery holds the parameters of a product search.
type ProductQuery struct {
	Search string
	Size   int
	Sort   string // price_asc, price_desc, name_asc, name_desc, date_asc, date_desc
	Store  string // chain code, e.g. KIWI, MENY_NO
}

// StoreQuery holds the parameters of a physical store search. Zero values
// are omitted from the request.
type StoreQuery struct {
	Search string
	Group  string
	Lat    float64
	Lng    float64
	Km     int
	Size   int
}
