package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/containers/nv-dhcp-proxy/internal/cache"
	"github.com/containers/nv-dhcp-proxy/internal/lease"
	"github.com/containers/nv-dhcp-proxy/internal/nverrors"
)

// fakeSession is a canned dhcpSession for tests: it returns a fixed lease
// (or error) and records whether Close was called. When hang is set,
// GetLease never returns on its own — it stands in for a session that
// doesn't honor cancellation, so the coordinator's own ctx.Done() race is
// what must end the call.
type fakeSession struct {
	lease  lease.Lease
	err    error
	hang   bool
	closed bool
}

func (f *fakeSession) GetLease(_ context.Context, mac lease.MacAddress, _ string) (lease.Lease, error) {
	if f.hang {
		select {}
	}
	if f.err != nil {
		return lease.Lease{}, f.err
	}
	return f.lease.WithMAC(mac), nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func newTestCoordinator(dir string) (*Coordinator, *cache.Cache) {
	c, err := cache.Open(filepath.Join(dir, "leases.json"))
	Expect(err).NotTo(HaveOccurred())

	return &Coordinator{
		Cache:         c,
		Timeout:       time.Second,
		newSession:    func(string, int32, time.Duration) (dhcpSession, error) { return &fakeSession{}, nil },
		applySetup:    func(lease.Lease, string, string) error { return nil },
		applyTeardown: func(string, string) error { return nil },
	}, c
}

var _ = Describe("Coordinator", func() {
	var (
		req NetworkConfig
		dir string
	)

	BeforeEach(func() {
		req = NetworkConfig{
			ContainerIface:   "eth0",
			ContainerMacAddr: "aa:bb:cc:dd:ee:ff",
			DomainName:       "example.com",
			NsPath:           "/proc/self/ns/net",
		}

		var err error
		dir, err = os.MkdirTemp("", "nv-dhcp-coordinator-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Describe("Setup", func() {
		It("acquires, persists and applies a lease on success", func() {
			co, c := newTestCoordinator(dir)
			co.newSession = func(string, int32, time.Duration) (dhcpSession, error) {
				return &fakeSession{lease: lease.Lease{YIAddr: "192.168.1.50"}}, nil
			}

			l, err := co.Setup(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.YIAddr).To(Equal("192.168.1.50"))
			Expect(l.MACAddress).To(Equal("aa:bb:cc:dd:ee:ff"))

			snap := c.Snapshot()
			Expect(snap["aa:bb:cc:dd:ee:ff"]).To(HaveLen(1))
		})

		It("rejects an invalid container_mac_addr without touching the cache", func() {
			co, c := newTestCoordinator(dir)
			req.ContainerMacAddr = "not-a-mac"

			_, err := co.Setup(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(nverrors.AsStatus(err).Kind).To(Equal(nverrors.InvalidArgument))
			Expect(c.Snapshot()).To(BeEmpty())
		})

		It("surfaces a DHCP session failure and does not persist anything", func() {
			co, c := newTestCoordinator(dir)
			co.newSession = func(string, int32, time.Duration) (dhcpSession, error) {
				return &fakeSession{err: nverrors.New(nverrors.NoLease, "no offer received")}, nil
			}

			_, err := co.Setup(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(nverrors.AsStatus(err).Kind).To(Equal(nverrors.NoLease))
			Expect(c.Snapshot()).To(BeEmpty())
		})

		It("returns an error when the context is canceled before the session finishes", func() {
			co, _ := newTestCoordinator(dir)
			co.newSession = func(string, int32, time.Duration) (dhcpSession, error) {
				return &fakeSession{hang: true}, nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := co.Setup(ctx, req)
			Expect(err).To(HaveOccurred())
			Expect(nverrors.AsStatus(err).Kind).To(Equal(nverrors.Timeout))
		})
	})

	Describe("Teardown", func() {
		It("returns a zero lease echoing the MAC when nothing is cached", func() {
			co, _ := newTestCoordinator(dir)

			l, err := co.Teardown(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.MACAddress).To(Equal("aa:bb:cc:dd:ee:ff"))
			Expect(l.YIAddr).To(BeEmpty())
		})

		It("removes a cached lease and purges the interface", func() {
			co, c := newTestCoordinator(dir)
			mac, _ := lease.ParseMAC(req.ContainerMacAddr)
			Expect(c.Add(mac, lease.Lease{YIAddr: "192.168.1.50"})).To(Succeed())

			purged := false
			co.applyTeardown = func(string, string) error { purged = true; return nil }

			l, err := co.Teardown(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(l.MACAddress).To(Equal(mac.String()))
			Expect(purged).To(BeTrue())
			Expect(c.Snapshot()).To(BeEmpty())
		})

		It("skips interface purge when NsPath is empty", func() {
			co, _ := newTestCoordinator(dir)
			req.NsPath = ""
			called := false
			co.applyTeardown = func(string, string) error { called = true; return nil }

			_, err := co.Teardown(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeFalse())
		})
	})

	Describe("Clean", func() {
		It("wipes every cached entry", func() {
			co, c := newTestCoordinator(dir)
			mac, _ := lease.ParseMAC("aa:bb:cc:dd:ee:ff")
			Expect(c.Add(mac, lease.Zero(mac))).To(Succeed())

			resp, err := co.Clean(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeTrue())
			Expect(c.Snapshot()).To(BeEmpty())
		})
	})
})
