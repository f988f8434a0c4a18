package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/paragon/internal/scanning"
)

var _ = Describe("BoltCache", func() {
	var (
		tmpDir string
		dbPath string
		cache  *BoltCache
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "cache.db")
		var err error
		cache, err = NewBoltCache(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if cache != nil {
			cache.Close()
		}
	})

	Describe("GetExtraction", func() {
		When("nothing was cached for the hash", func() {
			It("returns ErrNotFound", func() {
				_, err := cache.GetExtraction(testHash("a1"))
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		When("a result was cached", func() {
			BeforeEach(func() {
				Expect(cache.PutExtraction(&UploadResult{
					Hash:          testHash("a1"),
					CheckCompany:  "Biedronka",
					CheckTotal:    "19.98",
					PromptVersion: "1_0_0",
					Extracted:     true,
					Receipt:       &scanning.Receipt{ReceiptNumber: "2024/01/15/0042"},
				})).To(Succeed())
			})

			It("returns it", func() {
				res, err := cache.GetExtraction(testHash("a1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.CheckCompany).To(Equal("Biedronka"))
				Expect(res.Receipt.ReceiptNumber).To(Equal("2024/01/15/0042"))
			})

			It("survives reopening the database", func() {
				Expect(cache.Close()).To(Succeed())
				var err error
				cache, err = NewBoltCache(dbPath)
				Expect(err).NotTo(HaveOccurred())

				res, err := cache.GetExtraction(testHash("a1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.CheckTotal).To(Equal("19.98"))
			})
		})
	})

	Describe("PutExtraction", func() {
		It("replaces a previous result for the same hash", func() {
			Expect(cache.PutExtraction(&UploadResult{Hash: testHash("a1"), PromptVersion: "1_0_0"})).To(Succeed())
			Expect(cache.PutExtraction(&UploadResult{Hash: testHash("a1"), PromptVersion: "1_1_0"})).To(Succeed())

			res, err := cache.GetExtraction(testHash("a1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PromptVersion).To(Equal("1_1_0"))
		})
	})
})
