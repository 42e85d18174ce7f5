package cqlmigrate

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pledge to the kernel the syscalls needed to read migrations and talk to
// the database over the network on OpenBSD.
func Pledge() error {
	const promises = "stdio rpath inet dns"
	if err := unix.Pledge(promises, ""); err != nil {
		return errors.Wrap(err, "pledge")
	}
	return nil
}

// Unveil only the migrations directory, TLS files and resolver config to
// the program. Empty paths are ignored.
func Unveil(paths []string) error {
	paths = append(paths, "/etc/resolv.conf", "/etc/hosts")
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := unix.Unveil(p, "r"); err != nil {
			return errors.Wrapf(err, "unveil %s", p)
		}
	}
	if err := unix.UnveilBlock(); err != nil {
		return errors.Wrap(err, "unveil block")
	}
	return nil
}
