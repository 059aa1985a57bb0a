// Command nv-dhcp-proxy is the long-lived DHCPv4 lease proxy daemon.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/containers/nv-dhcp-proxy/internal/lifecycle"
)

func main() {
	defaults := lifecycle.DefaultOptions()

	dir := flag.String("dir", defaults.Dir, "cache directory (snapshot file resides inside)")
	uds := flag.String("uds", defaults.UDS, "Unix domain socket path")
	timeout := flag.Duration("timeout", defaults.Timeout, "DHCP per-poll timeout")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	opts := lifecycle.Options{Dir: *dir, UDS: *uds, Timeout: *timeout}
	err := lifecycle.Run(opts)
	if errors.Is(err, lifecycle.ErrSignalShutdown) {
		// Already logged by Run; a signal-induced exit still reports
		// failure to the caller, per the daemon's exit-code contract.
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nv-dhcp-proxy: %v\n", err)
		os.Exit(1)
	}
}
