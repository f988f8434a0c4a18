package receipt

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testHash(seed string) string {
	return strings.Repeat(seed, 64)[:64]
}

func testArtifacts(hash, date string, created time.Time) Artifacts {
	return Artifacts{
		Date:          date,
		Hash:          hash,
		Original:      []byte("original jpeg"),
		Fixed:         []byte("fixed jpeg"),
		RawText:       `{"receipt_number":"1"}`,
		PromptVersion: "1_0_0",
		CreatedAt:     created,
	}
}

// snapshot reads every file under dir into a map keyed by relative path
func snapshot(dir string) map[string]string {
	files := map[string]string{}
	Expect(filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[rel] = string(data)
		return nil
	})).To(Succeed())
	return files
}

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
		hash    string
		created time.Time
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		hash = testHash("a1")
		created = time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	})

	Describe("Put", func() {
		var (
			meta *Metadata
			err  error
		)

		JustBeforeEach(func() {
			meta, err = storage.Put(testArtifacts(hash, "2024-01-15", created))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("lays files out under date and hash", func() {
			dir := filepath.Join(tmpDir, "2024-01-15", hash)
			Expect(filepath.Join(dir, hash+".jpg")).To(BeAnExistingFile())
			Expect(filepath.Join(dir, hash+"_fixed.jpg")).To(BeAnExistingFile())
			Expect(filepath.Join(dir, hash+"_ocr_1_0_0.txt")).To(BeAnExistingFile())
			Expect(filepath.Join(dir, "metadata.json")).To(BeAnExistingFile())
		})

		It("returns the metadata record", func() {
			Expect(meta.Hash).To(Equal(hash))
			Expect(meta.Date).To(Equal("2024-01-15"))
			Expect(meta.PromptVersion).To(Equal("1_0_0"))
			Expect(meta.CreatedAt).To(BeTemporally("==", created))
			Expect(meta.Files.Fixed).To(Equal(filepath.Join("2024-01-15", hash, hash+"_fixed.jpg")))
		})

		It("leaves no temporary files behind", func() {
			entries, readErr := os.ReadDir(filepath.Join(tmpDir, "2024-01-15", hash))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(4))
		})

		When("the same artifacts are written again later", func() {
			It("leaves the store in the same state", func() {
				before := snapshot(tmpDir)
				_, err := storage.Put(testArtifacts(hash, "2024-01-15", created.Add(time.Hour)))
				Expect(err).NotTo(HaveOccurred())
				Expect(snapshot(tmpDir)).To(Equal(before))
			})
		})

		When("the same image is stored again under another date", func() {
			It("keeps only the latest run", func() {
				a := testArtifacts(hash, "2024-03-20", created.Add(time.Hour))
				a.RawText = "accepted run"
				_, err := storage.Put(a)
				Expect(err).NotTo(HaveOccurred())

				Expect(filepath.Join(tmpDir, "2024-01-15", hash)).NotTo(BeADirectory())

				meta, err := storage.Get(hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(meta.Date).To(Equal("2024-03-20"))
				text, err := storage.Read(meta.Files.OCR)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(text)).To(Equal("accepted run"))

				list, err := storage.List(10, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(1))
			})
		})

		When("the hash is not a digest", func() {
			BeforeEach(func() {
				hash = "../../etc"
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid content hash")))
			})
		})
	})

	Describe("Get", func() {
		BeforeEach(func() {
			_, err := storage.Put(testArtifacts(hash, "2024-01-15", created))
			Expect(err).NotTo(HaveOccurred())
		})

		It("finds the receipt without knowing its date", func() {
			meta, err := storage.Get(hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Date).To(Equal("2024-01-15"))
		})

		It("returns ErrNotFound for unknown hashes", func() {
			_, err := storage.Get(testHash("b2"))
			Expect(err).To(MatchError(ErrNotFound))
		})

		When("an older run of the hash is left under another date", func() {
			BeforeEach(func() {
				stale := filepath.Join(tmpDir, "1900-01-01", hash)
				Expect(os.MkdirAll(stale, 0755)).To(Succeed())
				Expect(writeMetadata(stale, &Metadata{
					Hash:      hash,
					Date:      "1900-01-01",
					CreatedAt: created.Add(-time.Hour),
					Path:      filepath.Join("1900-01-01", hash),
				})).To(Succeed())
			})

			It("resolves to the newest run", func() {
				meta, err := storage.Get(hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(meta.Date).To(Equal("2024-01-15"))
			})

			It("lists the hash once", func() {
				list, err := storage.List(10, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(1))
				Expect(list[0].Date).To(Equal("2024-01-15"))
			})
		})

		When("the metadata record is missing", func() {
			BeforeEach(func() {
				Expect(os.Remove(filepath.Join(tmpDir, "2024-01-15", hash, "metadata.json"))).To(Succeed())
			})

			It("rebuilds it from the directory contents", func() {
				meta, err := storage.Get(hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(meta.Hash).To(Equal(hash))
				Expect(meta.Date).To(Equal("2024-01-15"))
				Expect(meta.PromptVersion).To(Equal("1_0_0"))
				Expect(meta.Files.OCR).To(HaveSuffix("_ocr_1_0_0.txt"))
				Expect(meta.CreatedAt.IsZero()).To(BeFalse())
			})

			It("persists the rebuilt record", func() {
				_, err := storage.Get(hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(tmpDir, "2024-01-15", hash, "metadata.json")).To(BeAnExistingFile())
			})
		})

		When("the metadata record is corrupt", func() {
			BeforeEach(func() {
				path := filepath.Join(tmpDir, "2024-01-15", hash, "metadata.json")
				Expect(os.WriteFile(path, []byte("{not json"), 0644)).To(Succeed())
			})

			It("still answers the read", func() {
				meta, err := storage.Get(hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(meta.PromptVersion).To(Equal("1_0_0"))
			})
		})

		When("the directory has no extraction text", func() {
			BeforeEach(func() {
				dir := filepath.Join(tmpDir, "2024-01-15", hash)
				Expect(os.Remove(filepath.Join(dir, "metadata.json"))).To(Succeed())
				Expect(os.Remove(filepath.Join(dir, hash+"_ocr_1_0_0.txt"))).To(Succeed())
			})

			It("returns what it can infer", func() {
				meta, err := storage.Get(hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(meta.PromptVersion).To(BeEmpty())
				Expect(meta.Files.OCR).To(BeEmpty())
			})
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			for i, seed := range []string{"a1", "b2", "c3"} {
				a := testArtifacts(testHash(seed), "2024-01-1"+string(rune('5'+i)), created.Add(time.Duration(i)*time.Hour))
				_, err := storage.Put(a)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("orders by creation time, newest first", func() {
			list, err := storage.List(10, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(3))
			Expect(list[0].Hash).To(Equal(testHash("c3")))
			Expect(list[2].Hash).To(Equal(testHash("a1")))
		})

		It("pages with limit and offset", func() {
			list, err := storage.List(1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Hash).To(Equal(testHash("b2")))
		})

		It("returns an empty page past the end", func() {
			list, err := storage.List(10, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})

	Describe("Read", func() {
		It("rejects paths outside the store", func() {
			_, err := storage.Read("../secret")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns ErrNotFound for missing files", func() {
			_, err := storage.Read("2024-01-15/nothing.jpg")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})
})
