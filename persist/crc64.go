package persist

// CRC-64 with the Jones polynomial in reflected form, the checksum
// algorithm of the snapshot file trailer and of DUMP payloads.
const crc64Poly = 0xad93d23594c935a9

var crc64Table [256]uint64

func init() {
	for i := 0; i < 256; i++ {
		crc := uint64(i)
		for k := 0; k < 8; k++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc64Poly
			} else {
				crc >>= 1
			}
		}
		crc64Table[i] = crc
	}
}

// Checksum extends crc with the bytes of p
func Checksum(crc uint64, p []byte) uint64 {
	for _, b := range p {
		crc = crc64Table[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}
