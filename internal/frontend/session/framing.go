package session

import "bytes"

const (
	// DefaultDelimiter terminates a line (carriage return).
	DefaultDelimiter byte = 0x0D
	// DefaultBackspace is the destructive delete key of 8-bit terminals (PETSCII DEL).
	DefaultBackspace byte = 0x14
)

// Framing holds the byte values used to cut the input stream into lines.
type Framing struct {
	Delimiter byte
	Backspace byte
}

// DefaultFraming returns CR-delimited framing with PETSCII DEL as backspace.
func DefaultFraming() Framing {
	return Framing{Delimiter: DefaultDelimiter, Backspace: DefaultBackspace}
}

// SplitLine cuts buf at the first delimiter byte.
//
// Postcondition: When ok is false no delimiter was found and buf must be kept
// whole. Otherwise line holds the bytes before the delimiter (possibly empty)
// and rest the bytes after it; the delimiter itself is dropped.
func SplitLine(buf []byte, delimiter byte) (line, rest []byte, ok bool) {
	idx := bytes.IndexByte(buf, delimiter)
	if idx < 0 {
		return nil, buf, false
	}
	return buf[:idx], buf[idx+1:], true
}

// ApplyBackspace performs destructive-backspace editing. Scanning from the
// end, every backspace byte cancels the nearest preceding byte that has not
// already been cancelled. Unmatched backspaces are dropped.
//
// Postcondition: Returns a new slice; line is not modified. Surviving bytes
// keep their relative order.
func ApplyBackspace(line []byte, backspace byte) []byte {
	kept := make([]byte, 0, len(line))
	skip := 0
	for i := len(line) - 1; i >= 0; i-- {
		switch {
		case line[i] == backspace:
			skip++
		case skip > 0:
			skip--
		default:
			kept = append(kept, line[i])
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
