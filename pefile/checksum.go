package pefile

import "encoding/binary"

// CheckSum computes the PE image checksum of b.
// The four bytes at checksumOffset are treated as zero.
func CheckSum(b []byte, checksumOffset int) uint32 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		var w uint32
		if i < checksumOffset-1 || i >= checksumOffset+4 {
			w = uint32(binary.LittleEndian.Uint16(b[i:]))
		} else {
			// word overlaps the checksum field
			lo, hi := b[i], b[i+1]
			if i >= checksumOffset && i < checksumOffset+4 {
				lo = 0
			}
			if i+1 >= checksumOffset && i+1 < checksumOffset+4 {
				hi = 0
			}
			w = uint32(lo) | uint32(hi)<<8
		}
		sum += w
		sum = (sum & 0xffff) + (sum >> 16)
	}
	if n%2 == 1 {
		sum += uint32(b[n-1])
		sum = (sum & 0xffff) + (sum >> 16)
	}
	sum = (sum & 0xffff) + (sum >> 16)
	return sum + uint32(n)
}
