// Package format holds allocation-free text conversion helpers used on the
// serial output path.
package format

// Itoa converts value to decimal ASCII inside buf, writing digits from the
// end of the buffer and compacting them to the front, followed by a NUL
// terminator. It returns the number of bytes written excluding the
// terminator, or 0 if buf cannot hold the sign, all digits and the
// terminator. On failure buf[0] is set to NUL and the buffer content is
// unusable.
//
// The terminator lets callers treat buf as a C-style string, but the
// returned length is authoritative: callers appending further bytes may
// overwrite the terminator.
func Itoa(value int, buf []byte) int {
	if len(buf) == 0 {
		return 0
	}

	negative := false
	if value < 0 {
		negative = true
		value = -value
	}

	// Digits are produced least-significant first at the tail of buf.
	index := len(buf)
	for index--; index >= 0; index-- {
		buf[index] = byte(value%10) + '0'
		if value < 10 {
			break
		}
		value /= 10
	}

	// Needs room for the terminator and, for negatives, the sign.
	if index < 1 || (negative && index < 2) {
		buf[0] = 0
		return 0
	}

	start := 0
	if negative {
		buf[0] = '-'
		start = 1
	}

	n := copy(buf[start:], buf[index:])
	length := n + start
	buf[length] = 0

	return length
}
