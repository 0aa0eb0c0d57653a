package bbdo

// CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF, no
// reflection, no final xor.
const crcPoly = 0x1021

var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

func crc16Update(crc uint16, p []byte) uint16 {
	for _, b := range p {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// Checksum returns the CRC-16/CCITT-FALSE of p
func Checksum(p []byte) uint16 {
	return crc16Update(0xFFFF, p)
}
