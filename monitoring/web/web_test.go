package web_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/kcore/monitoring/web"
)

func readIndex(fs http.FileSystem) string {
	f, err := fs.Open("index.html")
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	b, err := io.ReadAll(f)
	Expect(err).NotTo(HaveOccurred())

	return string(b)
}

var _ = Describe("Web", func() {
	Context("with embedded assets", func() {
		BeforeEach(func() {
			GinkgoT().Setenv(web.DevEnv, "false")
		})

		It("should serve the dashboard", func() {
			Expect(readIndex(web.Assets())).To(HavePrefix("<!DOCTYPE html>"))
		})

		It("should let the browser cache files", func() {
			rec := httptest.NewRecorder()
			web.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Cache-Control")).To(BeEmpty())
		})
	})

	Context("in development mode", func() {
		BeforeEach(func() {
			GinkgoT().Setenv(web.DevEnv, "true")
		})

		It("should serve the source directory", func() {
			Expect(readIndex(web.Assets())).To(HavePrefix("<!DOCTYPE html>"))
		})
	})

	Context("with a custom directory", func() {
		It("should serve that directory without caching", func() {
			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, "index.html"),
				[]byte("custom"), 0o644)).To(Succeed())
			GinkgoT().Setenv(web.DevEnv, dir)

			Expect(readIndex(web.Assets())).To(Equal("custom"))

			rec := httptest.NewRecorder()
			web.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/index.html", nil))
			Expect(rec.Header().Get("Cache-Control")).To(Equal("no-store"))
		})
	})
})
