package programs

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
)

// SubnetPrefixes splits an IPv4 VPC block into one public and one private
// subnet per availability zone, ordered public-1, private-1, public-2, ...
// Every subnet gets the largest power-of-two size that fits.
func SubnetPrefixes(cidr string, zones int) ([]netip.Prefix, error) {
	network, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid vpc cidr block %q: %w", cidr, err)
	}
	if !network.Addr().Is4() {
		return nil, fmt.Errorf("vpc cidr block %q is not IPv4", cidr)
	}
	if zones < 1 {
		return nil, fmt.Errorf("at least one availability zone is required")
	}
	network = network.Masked()

	total := uint64(1) << (32 - network.Bits())
	per := total / uint64(2*zones)
	if per == 0 {
		return nil, fmt.Errorf("vpc cidr block %q is too small for %d availability zones", cidr, zones)
	}
	mask := 32 - (bits.Len64(per) - 1)
	if mask < 16 || mask > 28 {
		return nil, fmt.Errorf("subnet cidr mask should be between 16 and 28 but was %d", mask)
	}

	size := uint32(1) << (32 - mask)
	base := binary.BigEndian.Uint32(network.Addr().AsSlice())
	subnets := make([]netip.Prefix, 2*zones)
	for i := range subnets {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], base+uint32(i)*size)
		subnets[i] = netip.PrefixFrom(netip.AddrFrom4(b), mask)
	}
	return subnets, nil
}
