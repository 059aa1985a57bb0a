package cache_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/containers/nv-dhcp-proxy/internal/cache"
	"github.com/containers/nv-dhcp-proxy/internal/lease"
)

var _ = Describe("Cache", func() {
	var (
		dir  string
		path string
		mac  lease.MacAddress
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "nv-dhcp-cache-test")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "leases.json")

		mac, err = lease.ParseMAC("aa:bb:cc:dd:ee:ff")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("creates the snapshot file on Open", func() {
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Path()).To(Equal(path))

		_, statErr := os.Stat(path)
		Expect(statErr).NotTo(HaveOccurred())
	})

	It("persists an Add to both memory and disk", func() {
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())

		l := lease.Zero(mac)
		l.YIAddr = "192.168.1.50"
		Expect(c.Add(mac, l)).To(Succeed())

		snap := c.Snapshot()
		Expect(snap[mac.String()]).To(HaveLen(1))
		Expect(snap[mac.String()][0].YIAddr).To(Equal("192.168.1.50"))

		raw, readErr := os.ReadFile(path)
		Expect(readErr).NotTo(HaveOccurred())
		var onDisk map[string][]lease.Lease
		Expect(json.Unmarshal(raw, &onDisk)).To(Succeed())
		Expect(onDisk[mac.String()]).To(HaveLen(1))
	})

	It("overwrites the prior entry on Update", func() {
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())

		first := lease.Zero(mac)
		first.YIAddr = "192.168.1.50"
		Expect(c.Add(mac, first)).To(Succeed())

		second := lease.Zero(mac)
		second.YIAddr = "192.168.1.51"
		Expect(c.Update(mac, second)).To(Succeed())

		snap := c.Snapshot()
		Expect(snap[mac.String()]).To(HaveLen(1))
		Expect(snap[mac.String()][0].YIAddr).To(Equal("192.168.1.51"))
	})

	It("returns a zero lease when removing an absent MAC, without error", func() {
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())

		removed, err := c.Remove(mac)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed.MACAddress).To(Equal(mac.String()))
		Expect(removed.YIAddr).To(BeEmpty())
	})

	It("removes a present entry and returns it", func() {
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())

		l := lease.Zero(mac)
		l.YIAddr = "192.168.1.50"
		Expect(c.Add(mac, l)).To(Succeed())

		removed, err := c.Remove(mac)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed.YIAddr).To(Equal("192.168.1.50"))
		Expect(c.Snapshot()).NotTo(HaveKey(mac.String()))
	})

	It("clears every entry on Teardown", func() {
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(c.Add(mac, lease.Zero(mac))).To(Succeed())
		Expect(c.Teardown()).To(Succeed())
		Expect(c.Snapshot()).To(BeEmpty())
	})

	It("rolls back the in-memory entry when the snapshot write fails", func() {
		// Open the cache normally, then replace its snapshot file with a
		// directory: the temp-file rename onto that path then fails
		// deterministically regardless of process privileges, since
		// rename(2) refuses to replace a directory with a file.
		c, err := cache.Open(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Remove(path)).To(Succeed())
		Expect(os.Mkdir(path, 0o700)).To(Succeed())

		err = c.Add(mac, lease.Zero(mac))
		Expect(err).To(HaveOccurred())
		Expect(c.Snapshot()).To(BeEmpty(), "failed write must not leave a dangling in-memory entry")
	})
})
