package domain

// LineItem is one product the shopper intends to buy.
type LineItem struct {
	ProductID    string `json:"productId"`
	DisplayName  string `json:"displayName"`
	ThumbnailRef string `json:"thumbnailRef"`
	// UnitPrice is the price resolved for Quantity, in minor currency units.
	UnitPrice int64 `json:"unitPrice"`
	Quantity  int   `json:"quantity"`
}

// Subtotal returns UnitPrice * Quantity.
func (li LineItem) Subtotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Cart is the ordered collection of line items for one shopper session.
// Items are unique by ProductID and kept in insertion order.
type Cart struct {
	Items []LineItem `json:"items"`
	// IsOpen is the cart drawer visibility flag. It is never persisted.
	IsOpen bool `json:"isOpen"`
	// Version counts committed transitions since the cart was loaded. It is
	// never persisted.
	Version uint64 `json:"version"`
}

// FindItemIndex returns the index of the line for productID, or -1.
func (c *Cart) FindItemIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// TotalAmount calculates the total price of all items in the cart (minor units).
func (c *Cart) TotalAmount() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal()
	}
	return total
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Clone returns a deep copy whose Items slice does not alias c's.
func (c *Cart) Clone() Cart {
	out := *c
	out.Items = make([]LineItem, len(c.Items))
	copy(out.Items, c.Items)
	return out
}
