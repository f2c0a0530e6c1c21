package domain

// Tier is one rung of a price schedule.
type Tier struct {
	Price  int64 `json:"price"`
	MinQty int   `json:"minQty"`
}

// PriceSchedule is the tier ladder attached to a product. Distributor and
// Wholesale take effect only when configured; Retail applies from MinQty
// (1 when unset); Price is the legacy flat fallback that always exists.
type PriceSchedule struct {
	Distributor *Tier `json:"distributor,omitempty"`
	Wholesale   *Tier `json:"wholesale,omitempty"`
	Retail      *Tier `json:"retail,omitempty"`
	Price       int64 `json:"price"`
}

// Product is the catalog view of a product returned by GET /products/{id}.
// Nullable tier fields are pointers.
type Product struct {
	ID              string `json:"id"`
	StockEnabled    bool   `json:"stockEnabled"`
	StockQuantity   int    `json:"stockQuantity"`
	AllowBackorders bool   `json:"allowBackorders"`

	RetailPrice       *int64 `json:"retailPrice"`
	RetailMinQty      *int   `json:"retailMinQty"`
	WholesalePrice    *int64 `json:"wholesalePrice"`
	WholesaleMinQty   *int   `json:"wholesaleMinQty"`
	DistributorPrice  *int64 `json:"distributorPrice"`
	DistributorMinQty *int   `json:"distributorMinQty"`

	Price int64 `json:"price"`
}

// Schedule builds the product's price schedule. A distributor or wholesale
// tier exists only when both its price and minimum quantity are set.
func (p *Product) Schedule() PriceSchedule {
	s := PriceSchedule{Price: p.Price}

	if p.DistributorPrice != nil && p.DistributorMinQty != nil {
		s.Distributor = &Tier{Price: *p.DistributorPrice, MinQty: *p.DistributorMinQty}
	}
	if p.WholesalePrice != nil && p.WholesaleMinQty != nil {
		s.Wholesale = &Tier{Price: *p.WholesalePrice, MinQty: *p.WholesaleMinQty}
	}
	if p.RetailPrice != nil {
		minQty := 1
		if p.RetailMinQty != nil && *p.RetailMinQty > 0 {
			minQty = *p.RetailMinQty
		}
		s.Retail = &Tier{Price: *p.RetailPrice, MinQty: minQty}
	}

	return s
}
