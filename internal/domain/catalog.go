package domain

// Product is the slice of catalog data the checkout pipeline needs. The full
// catalog lives elsewhere; orders copy what they use at placement time.
type Product struct {
	ID                 string   `firestore:"-"`
	SKU                string   `firestore:"sku,omitempty"`
	Name               string   `firestore:"name"`
	Price              int64    `firestore:"price"`
	TaxCategoryID      string   `firestore:"taxCategoryId,omitempty"`
	TaxExempt          bool     `firestore:"taxExempt"`
	ShippingRequired   bool     `firestore:"shippingRequired"`
	WeightGrams        int      `firestore:"weightGrams,omitempty"`
	WarehouseID        string   `firestore:"warehouseId,omitempty"`
	RequiredProductIDs []string `firestore:"requiredProductIds,omitempty"`
	MinCartQty         int      `firestore:"minCartQty,omitempty"`
	MaxCartQty         int      `firestore:"maxCartQty,omitempty"`
	Published          bool     `firestore:"published"`
}

// Customer carries the checkout-relevant customer attributes. Group membership
// drives provider ACLs and per-group tax exemptions.
type Customer struct {
	ID             string   `firestore:"-"`
	Email          string   `firestore:"email"`
	Groups         []string `firestore:"groups,omitempty"`
	TaxExempt      bool     `firestore:"taxExempt"`
	VATNumber      string   `firestore:"vatNumber,omitempty"`
	VATNumberValid bool     `firestore:"vatNumberValid"`
	LoyaltyBalance int      `firestore:"loyaltyBalance"`
}

// InGroup reports membership in the named customer group.
func (c *Customer) InGroup(group string) bool {
	if c == nil {
		return false
	}
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}
