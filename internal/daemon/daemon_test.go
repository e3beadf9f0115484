package daemon

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDaemon(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "daemon suite")
}

var _ = Describe("PID file", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("has no owner when the file is absent", func() {
		pid, running := IsRunning(dir)
		Expect(pid).To(Equal(0))
		Expect(running).To(BeFalse())
	})

	It("claims the file for the current process", func() {
		Expect(acquirePIDFile(dir)).To(Succeed())
		pid, running := IsRunning(dir)
		Expect(running).To(BeTrue())
		Expect(pid).To(Equal(os.Getpid()))
	})

	It("refuses to claim a file already owned by a live process", func() {
		Expect(acquirePIDFile(dir)).To(Succeed())
		err := acquirePIDFile(dir)
		Expect(err).To(HaveOccurred())
	})

	It("reclaims a file left by a process that is no longer alive", func() {
		// PID 1 belongs to init on any Unix system this test runs on and is
		// never the current test process, but a huge unused PID is a safer
		// stand-in for "definitely not alive" across sandboxes.
		stalePath := filepath.Join(dir, "daemon.pid")
		Expect(os.WriteFile(stalePath, []byte("999999"), 0644)).To(Succeed())
		Expect(acquirePIDFile(dir)).To(Succeed())
		pid, _ := readPID(dir)
		Expect(pid).To(Equal(os.Getpid()))
	})

	It("is idempotent and ignores a missing file on release", func() {
		Expect(releasePIDFile(dir)).To(Succeed())
		Expect(acquirePIDFile(dir)).To(Succeed())
		Expect(releasePIDFile(dir)).To(Succeed())
		_, running := IsRunning(dir)
		Expect(running).To(BeFalse())
	})
})

var _ = Describe("GetLogs", func() {
	It("returns an empty string when the log file does not exist", func() {
		out, err := GetLogs(GinkgoT().TempDir(), 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(""))
	})

	It("returns only the last n lines", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "daemon.log")
		Expect(os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0644)).To(Succeed())

		out, err := GetLogs(dir, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("three\nfour\n"))
	})
})
