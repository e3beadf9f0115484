package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/re-cinq/devtrackd/internal/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "config suite")
}

var _ = Describe("Load", func() {
	It("synthesizes and persists defaults on first run", func() {
		dir := GinkgoT().TempDir()
		cfg, err := config.Load(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Settings.PromptIntervalMinutes).To(Equal(180))
		Expect(cfg.Settings.WorkStartHour).To(Equal(9))
		Expect(cfg.Settings.WorkEndHour).To(Equal(18))

		_, err = os.Stat(filepath.Join(dir, "config.yaml"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips a saved config", func() {
		dir := GinkgoT().TempDir()
		cfg := config.Default()
		cfg.Settings.PromptIntervalMinutes = 45
		Expect(config.Save(dir, cfg)).To(Succeed())

		loaded, err := config.Load(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Settings.PromptIntervalMinutes).To(Equal(45))
	})

	It("fills in defaults for a config.yaml written with partial settings", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("version: 1\n"), 0644)).To(Succeed())

		cfg, err := config.Load(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Settings.PromptIntervalMinutes).To(Equal(180))
		Expect(cfg.Settings.NotificationType).To(Equal("email"))
	})

	It("rejects malformed YAML", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("not: [valid"), 0644)).To(Succeed())

		_, err := config.Load(dir)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("AddRepository and RemoveRepository", func() {
	It("refuses a path with no .git directory", func() {
		dir := GinkgoT().TempDir()
		cfg := config.Default()
		err := config.AddRepository(dir, cfg, "demo", GinkgoT().TempDir(), "PROJ")
		Expect(err).To(HaveOccurred())
	})

	It("adds then removes a repository and persists both changes", func() {
		dir := GinkgoT().TempDir()
		repoDir := GinkgoT().TempDir()
		Expect(os.Mkdir(filepath.Join(repoDir, ".git"), 0755)).To(Succeed())

		cfg := config.Default()
		Expect(config.AddRepository(dir, cfg, "demo", repoDir, "PROJ")).To(Succeed())
		Expect(cfg.Repositories).To(HaveLen(1))
		Expect(cfg.EnabledRepositories()).To(HaveLen(1))

		reloaded, err := config.Load(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Repositories).To(HaveLen(1))

		Expect(config.RemoveRepository(dir, cfg, repoDir)).To(Succeed())
		Expect(cfg.Repositories).To(BeEmpty())
	})
})

var _ = Describe("ResolveSecret and IsPlaceholder", func() {
	It("passes through a value with no placeholder", func() {
		resolved, ok := config.ResolveSecret("plain-value")
		Expect(ok).To(BeTrue())
		Expect(resolved).To(Equal("plain-value"))
		Expect(config.IsPlaceholder("plain-value")).To(BeFalse())
	})

	It("resolves a ${NAME} placeholder from the environment", func() {
		os.Setenv("DEVTRACKD_TEST_SECRET", "s3cr3t")
		defer os.Unsetenv("DEVTRACKD_TEST_SECRET")

		Expect(config.IsPlaceholder("${DEVTRACKD_TEST_SECRET}")).To(BeTrue())
		resolved, ok := config.ResolveSecret("${DEVTRACKD_TEST_SECRET}")
		Expect(ok).To(BeTrue())
		Expect(resolved).To(Equal("s3cr3t"))
	})

	It("reports unresolved when the referenced variable is unset", func() {
		os.Unsetenv("DEVTRACKD_TEST_MISSING")
		_, ok := config.ResolveSecret("${DEVTRACKD_TEST_MISSING}")
		Expect(ok).To(BeFalse())
	})
})
