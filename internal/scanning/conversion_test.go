package scanning

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// patternImage draws a non-uniform test card
func patternImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*7 + y*13) % 256)
			img.Set(x, y, color.NRGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	return img
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("DecodeUpload", func() {
	var (
		data        []byte
		filename    string
		contentType string
		img         image.Image
		err         error
	)

	BeforeEach(func() {
		data = encodePNG(patternImage(300, 400))
		filename = "receipt.png"
		contentType = "image/png"
	})

	JustBeforeEach(func() {
		img, err = DecodeUpload(data, filename, contentType, DefaultMinImageSide)
	})

	expectBadInput := func(substr string) {
		Expect(errors.Is(err, ErrBadInput)).To(BeTrue(), "expected bad input, got %v", err)
		Expect(err.Error()).To(ContainSubstring(substr))
	}

	When("the upload is a valid PNG", func() {
		It("decodes the image", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(300))
			Expect(img.Bounds().Dy()).To(Equal(400))
		})
	})

	When("the content type is missing", func() {
		BeforeEach(func() {
			contentType = ""
		})

		It("falls back to the extension", func() {
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the upload is empty", func() {
		BeforeEach(func() {
			data = nil
		})

		It("rejects it", func() {
			expectBadInput("empty")
		})
	})

	When("the extension is not allowed", func() {
		BeforeEach(func() {
			filename = "receipt.exe"
			contentType = "application/octet-stream"
		})

		It("rejects it", func() {
			expectBadInput("unsupported file extension")
		})
	})

	When("the bytes are not an image", func() {
		BeforeEach(func() {
			data = []byte("definitely not a png")
		})

		It("rejects it", func() {
			expectBadInput("could not read uploaded image")
		})
	})

	When("the image is too small", func() {
		BeforeEach(func() {
			data = encodePNG(patternImage(40, 400))
		})

		It("rejects it", func() {
			expectBadInput("too small")
		})
	})

	When("the image is blank", func() {
		BeforeEach(func() {
			blank := image.NewNRGBA(image.Rect(0, 0, 300, 400))
			for i := range blank.Pix {
				blank.Pix[i] = 255
			}
			data = encodePNG(blank)
		})

		It("rejects it", func() {
			expectBadInput("blank")
		})
	})
})

var _ = Describe("ResolveContentType", func() {
	It("strips parameters and lowercases", func() {
		Expect(ResolveContentType("a.bin", "Image/JPEG; charset=binary")).To(Equal("image/jpeg"))
	})

	It("maps image/jpg to image/jpeg", func() {
		Expect(ResolveContentType("a", "image/jpg")).To(Equal("image/jpeg"))
	})

	It("uses the extension for octet-stream", func() {
		Expect(ResolveContentType("photo.HEIC", "application/octet-stream")).To(Equal("image/heic"))
	})
})

var _ = Describe("EncodeJPEG", func() {
	It("produces identical bytes for identical images", func() {
		a, err := EncodeJPEG(patternImage(50, 60))
		Expect(err).NotTo(HaveOccurred())
		b, err := EncodeJPEG(patternImage(50, 60))
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})
})
