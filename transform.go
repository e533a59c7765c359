package xlass

// Decode reverses the stored transform of one byte. It is an involution: Decode(Decode(b)) == b.
func Decode(b byte) byte {
	return 255 - b
}

// DecodeAll returns a new slice holding Decode applied to every byte of src, src is left untouched.
func DecodeAll(src []byte) []byte {
	dst := make([]byte, len(src))
	for i, b := range src {
		dst[i] = Decode(b)
	}
	return dst
}

// EncodeAll produces the stored form of a unit's true bytes. The transform is its own inverse,
// so this is DecodeAll under another name.
func EncodeAll(src []byte) []byte {
	return DecodeAll(src)
}
