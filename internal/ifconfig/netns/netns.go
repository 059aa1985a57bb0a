// Package netns provides a scoped network-namespace switch: entering a
// target namespace identified by a filesystem path, running a function
// with no suspension points, and guaranteeing the original namespace is
// restored on every exit path including a panic.
//
// This mirrors the usage pattern of github.com/containernetworking/
// plugins/pkg/ns (ns.WithNetNSPath / ns.GetNS(...).Do(...)) seen
// throughout this module's sibling plugins, reimplemented directly on
// vishvananda/netns because pkg/ns itself is not part of this module's
// dependency closure.
package netns

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
)

// WithNetNSPath enters the namespace at path, pins the current goroutine
// to its OS thread for the duration, runs fn, and restores the prior
// namespace before returning — even if fn panics.
func WithNetNSPath(path string, fn func() error) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	target, err := netns.GetFromPath(path)
	if err != nil {
		return fmt.Errorf("open network namespace %q: %w", path, err)
	}
	defer target.Close()

	current, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current network namespace: %w", err)
	}
	defer current.Close()

	if err := netns.Set(target); err != nil {
		return fmt.Errorf("enter network namespace %q: %w", path, err)
	}

	defer func() {
		restoreErr := netns.Set(current)
		if r := recover(); r != nil {
			// Restore first, then re-propagate the panic so the OS
			// thread is never left pinned to the wrong namespace.
			panic(r)
		}
		if err == nil && restoreErr != nil {
			err = fmt.Errorf("restore original network namespace: %w", restoreErr)
		}
	}()

	return fn()
}
