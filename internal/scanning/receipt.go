package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Payment methods accepted on a receipt
const (
	PaymentCard     = "card"
	PaymentCash     = "cash"
	PaymentTransfer = "transfer"
	PaymentBlik     = "blik"
)

// Currencies accepted on a receipt
const (
	CurrencyPLN = "PLN"
	CurrencyEUR = "EUR"
	CurrencyUSD = "USD"
)

const (
	defaultCurrency      = CurrencyPLN
	defaultUnitOfMeasure = "pcs"

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

var (
	paymentMethods = []string{PaymentCard, PaymentCash, PaymentTransfer, PaymentBlik}
	currencies     = []string{CurrencyPLN, CurrencyEUR, CurrencyUSD}

	postalCodePattern = regexp.MustCompile(`^\d{2}-\d{3}$`)
)

// Address is a store location printed on a receipt
type Address struct {
	City          string `json:"city"`
	StateOrRegion string `json:"state_or_region"`
	Street        string `json:"street"`
	PostalCode    string `json:"postal_code"`
}

// Store is the merchant that issued a receipt
type Store struct {
	Name      string    `json:"name"`
	Addresses []Address `json:"addresses"`
	TaxID     string    `json:"tax_id,omitempty"`
}

// PurchaseAddress returns the point-of-sale address. Receipts that list two or
// more addresses print the legal seat first and the shop second.
func (s Store) PurchaseAddress() Address {
	if len(s.Addresses) > 1 {
		return s.Addresses[1]
	}
	if len(s.Addresses) == 1 {
		return s.Addresses[0]
	}
	return Address{}
}

// ProductCategory is a free-form three level taxonomy assigned by the model
type ProductCategory struct {
	GeneralCategory string `json:"general_category"`
	SubCategory     string `json:"sub_category"`
	ProductType     string `json:"product_type"`
}

// Product is a single line item. Repeated items stay repeated.
type Product struct {
	Name                   string          `json:"name"`
	Category               ProductCategory `json:"category"`
	Promotional            bool            `json:"promotional"`
	Quantity               float64         `json:"quantity"`
	UnitOfMeasure          string          `json:"unit_of_measure"`
	UnitPrice              *float64        `json:"unit_price,omitempty"`
	TotalPrice             float64         `json:"total_price"`
	Discount               float64         `json:"discount"`
	TotalPriceWithDiscount float64         `json:"total_price_with_discount"`
}

// ReceiptDiscount is a receipt level promotion that is not tied to a line item
type ReceiptDiscount struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Receipt is the structured result of scanning a receipt photo
type Receipt struct {
	ReceiptNumber string            `json:"receipt_number"`
	Store         Store             `json:"store"`
	Date          string            `json:"date"`
	Time          string            `json:"time"`
	PaymentMethod string            `json:"payment_method"`
	Currency      string            `json:"currency"`
	TotalAmount   float64           `json:"total_amount"`
	TotalDiscount float64           `json:"total_discount"`
	Discounts     []ReceiptDiscount `json:"discounts"`
	Products      []Product         `json:"products"`
}

// DecodeReceipt unmarshals a receipt, fills in defaults and validates it.
// A *ValidationError is returned when the document violates the schema.
func DecodeReceipt(data []byte) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Receipt) applyDefaults() {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = defaultCurrency
	}
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	if r.Discounts == nil {
		r.Discounts = []ReceiptDiscount{}
	}
	for i := range r.Products {
		if strings.TrimSpace(r.Products[i].UnitOfMeasure) == "" {
			r.Products[i].UnitOfMeasure = defaultUnitOfMeasure
		}
	}
}

// Validate checks field constraints: required values, ranges, formats and enums
func (r *Receipt) Validate() error {
	v := Violations{}

	Required("receipt_number", r.ReceiptNumber, v)
	Required("store.name", r.Store.Name, v)
	MinItems("store.addresses", len(r.Store.Addresses), 1, v)
	for i, a := range r.Store.Addresses {
		prefix := fmt.Sprintf("store.addresses[%d].", i)
		Required(prefix+"city", a.City, v)
		Required(prefix+"state_or_region", a.StateOrRegion, v)
		Required(prefix+"street", a.Street, v)
		Pattern(prefix+"postal_code", a.PostalCode, postalCodePattern, v)
	}

	Layout("date", r.Date, dateLayout, v)
	Layout("time", r.Time, timeLayout, v)
	OneOf("payment_method", r.PaymentMethod, paymentMethods, v)
	OneOf("currency", r.Currency, currencies, v)
	PositiveFloat("total_amount", r.TotalAmount, v)
	NonNegativeFloat("total_discount", r.TotalDiscount, v)

	for i, d := range r.Discounts {
		prefix := fmt.Sprintf("discounts[%d].", i)
		Required(prefix+"description", d.Description, v)
		PositiveFloat(prefix+"amount", d.Amount, v)
	}

	MinItems("products", len(r.Products), 1, v)
	for i, p := range r.Products {
		prefix := fmt.Sprintf("products[%d].", i)
		Required(prefix+"name", p.Name, v)
		Required(prefix+"category.general_category", p.Category.GeneralCategory, v)
		Required(prefix+"category.sub_category", p.Category.SubCategory, v)
		Required(prefix+"category.product_type", p.Category.ProductType, v)
		PositiveFloat(prefix+"quantity", p.Quantity, v)
		if p.UnitPrice != nil {
			PositiveFloat(prefix+"unit_price", *p.UnitPrice, v)
		}
		PositiveFloat(prefix+"total_price", p.TotalPrice, v)
		NonNegativeFloat(prefix+"discount", p.Discount, v)
		PositiveFloat(prefix+"total_price_with_discount", p.TotalPriceWithDiscount, v)
	}

	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

const (
	// SentinelReceiptNumber marks a receipt that could not be reconciled
	SentinelReceiptNumber = "XXX"
	sentinelStoreName     = "Dummy"
	sentinelProductName   = "Smth wrg"
	sentinelCategory      = "Error"
	sentinelDate          = "1900-01-01"
)

// Sentinel returns the placeholder receipt used when extraction fails
func Sentinel() *Receipt {
	one := 1.0
	return &Receipt{
		ReceiptNumber: SentinelReceiptNumber,
		Store: Store{
			Name: sentinelStoreName,
			Addresses: []Address{{
				City:          sentinelStoreName,
				StateOrRegion: sentinelStoreName,
				Street:        sentinelStoreName,
				PostalCode:    "00-000",
			}},
			TaxID: sentinelStoreName,
		},
		Date:          sentinelDate,
		Time:          "08:08:00",
		PaymentMethod: PaymentCard,
		Currency:      CurrencyPLN,
		TotalAmount:   1.0,
		TotalDiscount: 0,
		Discounts:     []ReceiptDiscount{},
		Products: []Product{{
			Name: sentinelProductName,
			Category: ProductCategory{
				GeneralCategory: sentinelCategory,
				SubCategory:     sentinelCategory,
				ProductType:     sentinelCategory,
			},
			Quantity:               1,
			UnitOfMeasure:          defaultUnitOfMeasure,
			UnitPrice:              &one,
			TotalPrice:             1.0,
			TotalPriceWithDiscount: 1.0,
		}},
	}
}

// IsSentinel reports whether r is the extraction failure placeholder
func (r *Receipt) IsSentinel() bool {
	if r == nil {
		return false
	}
	if r.ReceiptNumber != SentinelReceiptNumber || r.Store.Name != sentinelStoreName {
		return false
	}
	return len(r.Products) == 1 && r.Products[0].Name == sentinelProductName
}
