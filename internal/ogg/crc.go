package ogg

// crcPolynomial is the generator used by Ogg. It is fed MSB-first with a zero
// initial value and no final XOR, so hash/crc32 (reflected IEEE) cannot be used.
const crcPolynomial = 0x04c11db7

var crcTable = makeCRCTable()

func makeCRCTable() (table [256]uint32) {
	for i := range table {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ crcPolynomial
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}

// crcUpdate continues a running checksum over data.
func crcUpdate(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// Checksum returns the Ogg CRC-32 of data. For a page, data must be the whole
// page with the checksum field zeroed.
func Checksum(data []byte) uint32 {
	return crcUpdate(0, data)
}
