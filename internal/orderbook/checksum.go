package orderbook

import (
	"hash/crc32"
	"strings"

	"github.com/rickgao/okx-data/internal/codec"
)

// ChecksumDepth is the number of levels per side covered by the exchange checksum.
const ChecksumDepth = 25

// ChecksumFunc computes a book checksum from the top levels of each side,
// best first. Implementations must match the exchange's algorithm exactly.
type ChecksumFunc func(bids, asks []codec.Level) int32

// OKXChecksum is the published OKX algorithm: for i in 0..24 append
// "bidPx:bidSz" then "askPx:askSz" when present, join with ":", take the
// CRC32 (IEEE) of the string and interpret it as a signed 32-bit integer.
// Prices and sizes use the exchange's original strings.
func OKXChecksum(bids, asks []codec.Level) int32 {
	var sb strings.Builder
	for i := 0; i < ChecksumDepth; i++ {
		if i < len(bids) {
			writePart(&sb, bids[i])
		}
		if i < len(asks) {
			writePart(&sb, asks[i])
		}
	}
	return int32(crc32.ChecksumIEEE([]byte(sb.String())))
}

func writePart(sb *strings.Builder, l codec.Level) {
	if sb.Len() > 0 {
		sb.WriteByte(':')
	}
	sb.WriteString(l.Px)
	sb.WriteByte(':')
	sb.WriteString(l.Sz)
}
