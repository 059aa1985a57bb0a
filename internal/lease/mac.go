package lease

import (
	"fmt"
	"strconv"
	"strings"
)

// MacAddress is a six-octet link-layer identifier, always rendered in its
// canonical lowercase colon-separated form.
type MacAddress struct {
	octets [6]byte
}

// ParseMAC validates s and returns its canonical MacAddress.
//
// s must split into exactly 6 octets on either ":" or "-", each
// parseable as a hex byte in [0,255]; round-tripping through String must
// reproduce the canonical form of the input.
func ParseMAC(s string) (MacAddress, error) {
	if s == "" {
		return MacAddress{}, fmt.Errorf("mac address is empty")
	}

	sep := ":"
	if !strings.Contains(s, ":") && strings.Contains(s, "-") {
		sep = "-"
	}

	parts := strings.Split(s, sep)
	if len(parts) != 6 {
		return MacAddress{}, fmt.Errorf("mac address %q does not have 6 octets", s)
	}

	var mac MacAddress
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 16)
		if err != nil || v > 0xff {
			return MacAddress{}, fmt.Errorf("mac address %q has invalid octet %q", s, p)
		}
		mac.octets[i] = byte(v)
	}
	return mac, nil
}

// Validate reports whether s is a valid MAC address per ParseMAC.
func Validate(s string) bool {
	_, err := ParseMAC(s)
	return err == nil
}

// String renders the canonical "xx:xx:xx:xx:xx:xx" form.
func (m MacAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m.octets[0], m.octets[1], m.octets[2], m.octets[3], m.octets[4], m.octets[5])
}

// Equal compares two MacAddress values by their canonical rendering.
func (m MacAddress) Equal(other MacAddress) bool {
	return m.octets == other.octets
}

// IsZero reports whether m is the unset MacAddress.
func (m MacAddress) IsZero() bool {
	return m.octets == [6]byte{}
}
