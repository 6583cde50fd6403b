package exidx

// SignExtend reinterprets the low bits of value as a two's-complement signed
// quantity with the sign bit at position bits-1.
func SignExtend(value uint32, bits uint) int64 {
	signBit := uint32(1) << (bits - 1)
	return int64(value&(signBit-1)) - int64(value&signBit)
}

// Prel31ToAddr resolves a prel31-encoded field to an absolute address: the
// 31-bit signed offset is added to the address of the word holding it. The
// result wraps to the 32-bit address space.
func Prel31ToAddr(field, ref uint32) uint32 {
	return uint32(int64(ref) + SignExtend(field, 31))
}
