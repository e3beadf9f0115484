package cli

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCLI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "cli suite")
}

var _ = Describe("renderStatus", func() {
	It("succeeds and reports stopped when no daemon has ever run in this profile dir", func() {
		dir := GinkgoT().TempDir()
		f, err := os.CreateTemp(dir, "status-*.txt")
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		Expect(renderStatus(f, dir)).To(Succeed())

		data, err := os.ReadFile(f.Name())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("devtrackd stopped"))
		Expect(string(data)).To(ContainSubstring("no event store yet"))
	})

	It("reports the PID file's modification time as uptime", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "daemon.pid"), []byte("999999"), 0644)).To(Succeed())

		f, err := os.CreateTemp(dir, "status-*.txt")
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		Expect(renderStatus(f, dir)).To(Succeed())
		data, err := os.ReadFile(f.Name())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("uptime"))
	})
})

var _ = Describe("stateDisplay and pausedSymbol", func() {
	It("marks a failing state with the red cross", func() {
		symbol, color := stateDisplay(false, "")
		Expect(symbol).To(Equal("✗"))
		Expect(color).To(Equal(ansiRed))
	})

	It("marks a paused scheduler with the pause glyph", func() {
		symbol, _ := pausedSymbol(true)
		Expect(symbol).To(Equal("⏸"))
	})
})
