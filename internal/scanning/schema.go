package scanning

// Schema types
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Schema is the subset of JSON Schema understood by every provider
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Nullable    bool               `json:"-"`
}

func str(desc string) *Schema  { return &Schema{Type: TypeString, Description: desc} }
func num(desc string) *Schema  { return &Schema{Type: TypeNumber, Description: desc} }
func flag(desc string) *Schema { return &Schema{Type: TypeBoolean, Description: desc} }

// ReceiptSchema describes the JSON document a model must return
func ReceiptSchema() *Schema {
	address := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"city":            str("City"),
			"state_or_region": str("State or region"),
			"street":          str("Street name and number"),
			"postal_code":     str("Postal code in the format XX-XXX"),
		},
		Required: []string{"city", "state_or_region", "street", "postal_code"},
	}

	store := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"name": str("Store name"),
			"addresses": {
				Type:        TypeArray,
				Description: "Addresses printed on the receipt; legal seat first, shop second",
				Items:       address,
			},
			"tax_id": {Type: TypeString, Description: "Store tax identification number, if printed", Nullable: true},
		},
		Required: []string{"name", "addresses"},
	}

	category := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"general_category": str("Top-level category, e.g. Groceries, Chemicals, Electronics"),
			"sub_category":     str("Subcategory, e.g. Dairy, Snacks, Sweets"),
			"product_type":     str("Detailed type, e.g. Milk, Butter, Chocolate"),
		},
		Required: []string{"general_category", "sub_category", "product_type"},
	}

	product := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"name":                      str("Product name"),
			"category":                  category,
			"promotional":               flag("Whether the product is under promotion"),
			"quantity":                  num("Quantity of units, greater than zero"),
			"unit_of_measure":           str("Unit of measure, e.g. pcs, kg, l"),
			"unit_price":                {Type: TypeNumber, Description: "Price per unit before discount", Nullable: true},
			"total_price":               num("Total price before discount, greater than zero"),
			"discount":                  num("Discount amount, zero when none"),
			"total_price_with_discount": num("Total price after discount, greater than zero"),
		},
		Required: []string{"name", "category", "quantity", "total_price", "total_price_with_discount"},
	}

	discount := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"description": str("Description of the discount, e.g. Loyalty discount"),
			"amount":      num("Discount amount, greater than zero"),
		},
		Required: []string{"description", "amount"},
	}

	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"receipt_number": str("Fiscal receipt number"),
			"store":          store,
			"date":           str("Date the receipt was issued, YYYY-MM-DD"),
			"time":           str("Time the receipt was issued, HH:MM:SS"),
			"payment_method": {Type: TypeString, Enum: paymentMethods, Description: "Payment method"},
			"currency":       {Type: TypeString, Enum: currencies, Description: "Currency of the prices"},
			"total_amount":   num("Total amount payable, greater than zero"),
			"total_discount": num("Total discount on the receipt, zero when none"),
			"discounts":      {Type: TypeArray, Items: discount, Description: "Receipt level discounts, may be empty"},
			"products":       {Type: TypeArray, Items: product, Description: "Every purchased line item in printed order; repeated items are listed repeatedly"},
		},
		Required: []string{"receipt_number", "store", "date", "time", "payment_method", "total_amount", "products"},
	}
}
