package scanning

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Receipt", func() {
	Describe("Store.PurchaseAddress", func() {
		It("returns the second address when two are printed", func() {
			store := sampleReceipt(1, 1).Store
			Expect(store.PurchaseAddress().City).To(Equal("Poznań"))
		})

		It("returns the only address otherwise", func() {
			store := sampleReceipt(1, 1).Store
			store.Addresses = store.Addresses[:1]
			Expect(store.PurchaseAddress().City).To(Equal("Kostrzyn"))
		})
	})

	Describe("DecodeReceipt", func() {
		var (
			doc     map[string]any
			receipt *Receipt
			err     error
		)

		BeforeEach(func() {
			Expect(json.Unmarshal([]byte(sampleJSON(4.99, 4.99)), &doc)).To(Succeed())
		})

		JustBeforeEach(func() {
			data, marshalErr := json.Marshal(doc)
			Expect(marshalErr).NotTo(HaveOccurred())
			receipt, err = DecodeReceipt(data)
		})

		violations := func() Violations {
			var verr *ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue(), "expected a validation error, got %v", err)
			return verr.Violations
		}

		When("optional fields are missing", func() {
			BeforeEach(func() {
				delete(doc, "currency")
				delete(doc, "discounts")
				product := doc["products"].([]any)[0].(map[string]any)
				delete(product, "unit_of_measure")
			})

			It("applies the defaults", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipt.Currency).To(Equal(CurrencyPLN))
				Expect(receipt.Discounts).To(BeEmpty())
				Expect(receipt.Discounts).NotTo(BeNil())
				Expect(receipt.Products[0].UnitOfMeasure).To(Equal("pcs"))
				Expect(receipt.Products[0].UnitPrice).To(BeNil())
			})
		})

		When("the payment method is outside the enum", func() {
			BeforeEach(func() {
				doc["payment_method"] = "voucher"
			})

			It("reports an invalid choice", func() {
				Expect(violations()).To(HaveKeyWithValue("payment_method", "invalid_choice"))
			})
		})

		When("the postal code is malformed", func() {
			BeforeEach(func() {
				doc["store"].(map[string]any)["addresses"].([]any)[0].(map[string]any)["postal_code"] = "62025"
			})

			It("reports an invalid format", func() {
				Expect(violations()).To(HaveKeyWithValue("store.addresses[0].postal_code", "invalid_format"))
			})
		})

		When("a price is not positive", func() {
			BeforeEach(func() {
				doc["products"].([]any)[0].(map[string]any)["total_price_with_discount"] = 0
				doc["products"].([]any)[0].(map[string]any)["unit_price"] = -2
			})

			It("reports both fields", func() {
				Expect(violations()).To(And(
					HaveKeyWithValue("products[0].total_price_with_discount", "must_be_positive"),
					HaveKeyWithValue("products[0].unit_price", "must_be_positive"),
				))
			})
		})

		When("the time is not HH:MM:SS", func() {
			BeforeEach(func() {
				doc["time"] = "17:42"
			})

			It("reports an invalid format", func() {
				Expect(violations()).To(HaveKeyWithValue("time", "invalid_format"))
			})
		})

		When("the store has no address", func() {
			BeforeEach(func() {
				doc["store"].(map[string]any)["addresses"] = []any{}
			})

			It("reports too few items", func() {
				Expect(violations()).To(HaveKeyWithValue("store.addresses", "too_few_items"))
			})
		})
	})

	Describe("Sentinel", func() {
		It("carries the recognizable placeholder values", func() {
			s := Sentinel()
			Expect(s.ReceiptNumber).To(Equal("XXX"))
			Expect(s.Store.Name).To(Equal("Dummy"))
			Expect(s.TotalAmount).To(Equal(1.0))
			Expect(s.Products).To(HaveLen(1))
			Expect(s.Products[0].Name).To(Equal("Smth wrg"))
			Expect(s.Products[0].Category.GeneralCategory).To(Equal("Error"))
		})

		It("passes schema validation", func() {
			Expect(Sentinel().Validate()).To(Succeed())
		})

		It("is detected by IsSentinel", func() {
			Expect(Sentinel().IsSentinel()).To(BeTrue())
			Expect(sampleReceipt(1, 1).IsSentinel()).To(BeFalse())
		})
	})
})
