package hashing

// Modulo implements the Modulo distribution policy: crc16(key) % live_count
// over the supplied slice of live backend ids. liveIDs must be
// non-empty; callers handle the empty-live-set "no-backend" case
// before calling Modulo.
func Modulo(key []byte, liveIDs []int) int {
	idx := int(CRC16(key)) % len(liveIDs)
	return liveIDs[idx]
}
