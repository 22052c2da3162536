package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"syscall"
)

// ErrRestrictedAddress is returned by DialControl when a resolved address
// lies inside a restricted network.
var ErrRestrictedAddress = errors.New("restricted address")

// DialControl is a net.Dialer Control hook. It runs after name resolution,
// so hostnames that resolve into internal networks are refused as well.
func (f *Filter) DialControl(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: unparseable dial address %q", ErrRestrictedAddress, address)
	}
	if f.Restricted(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrRestrictedAddress, ap.Addr())
	}
	return nil
}
