package spatial

// mortonEncode3 interleaves the low 21 bits of each coordinate into a
// 64-bit Morton code. Nearby cells land near each other in index space,
// trading a larger cell_start/cell_end allocation (the code space is far
// sparser than the grid) for better cache locality of neighbouring cells.
func mortonEncode3(x, y, z uint32) uint64 {
	return spread3(uint64(x)) | spread3(uint64(y))<<1 | spread3(uint64(z))<<2
}

// spread3 spaces out the low 21 bits of v so each occupies every third bit
// position, the standard "magic bits" bit-interleaving trick.
func spread3(v uint64) uint64 {
	v &= 0x1FFFFF
	v = (v | v<<32) & 0x1F00000000FFFF
	v = (v | v<<16) & 0x1F0000FF0000FF
	v = (v | v<<8) & 0x100F00F00F00F00F
	v = (v | v<<4) & 0x10C30C30C30C30C3
	v = (v | v<<2) & 0x1249249249249249
	return v
}
