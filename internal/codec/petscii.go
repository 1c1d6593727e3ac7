package codec

// petsciiCodec implements the Commodore "shifted" (lower/upper case) PETSCII
// character set. Graphic characters map onto Unicode block elements, box
// drawing and Symbols for Legacy Computing.
type petsciiCodec struct {
	decode [256]rune
	encode map[rune]byte
}

// shiftedGraphics covers codes 0xA0 through 0xBF.
var shiftedGraphics = [32]rune{
	'\u00a0', '▌', '▄', '▔', '▁', '▏', '▒', '▕',
	'\U0001fb8f', '\U0001fb99', '\U0001fb87', '├', '▗', '└', '┐', '▂',
	'┌', '┴', '┬', '┤', '▎', '▍', '\U0001fb88', '\U0001fb82',
	'\U0001fb83', '▃', '✓', '▖', '▝', '┘', '▘', '▚',
}

// PETSCII returns the shifted PETSCII codec.
func PETSCII() Codec {
	c := &petsciiCodec{encode: make(map[rune]byte, 256)}

	// Control codes pass through unchanged (0x0D is RETURN, 0x14 is DEL).
	for b := 0x00; b < 0x20; b++ {
		c.decode[b] = rune(b)
	}
	for b := 0x80; b < 0xA0; b++ {
		c.decode[b] = rune(b)
	}
	for b := 0x20; b <= 0x40; b++ {
		c.decode[b] = rune(b)
	}
	for b := 0x41; b <= 0x5A; b++ {
		c.decode[b] = rune('a' + b - 0x41)
	}
	c.decode[0x5B] = '['
	c.decode[0x5C] = '£'
	c.decode[0x5D] = ']'
	c.decode[0x5E] = '↑'
	c.decode[0x5F] = '←'
	for i, r := range shiftedGraphics {
		c.decode[0xA0+i] = r
	}
	c.decode[0xC0] = '─'
	for b := 0xC1; b <= 0xDA; b++ {
		c.decode[b] = rune('A' + b - 0xC1)
	}
	c.decode[0xDB] = '┼'
	c.decode[0xDC] = '\U0001fb8c'
	c.decode[0xDD] = '│'
	c.decode[0xDE] = '\U0001fb96'
	c.decode[0xDF] = '\U0001fb98'

	// Alternate codes that render the same glyphs.
	for b := 0x60; b < 0x80; b++ {
		c.decode[b] = c.decode[b+0x60]
	}
	for b := 0xE0; b < 0xFF; b++ {
		c.decode[b] = c.decode[b-0x40]
	}
	c.decode[0xFF] = c.decode[0xDE]

	// Canonical codes first so that encoding prefers them over alternates.
	for _, span := range [][2]int{{0x00, 0x60}, {0x80, 0xE0}, {0x60, 0x80}, {0xE0, 0x100}} {
		for b := span[0]; b < span[1]; b++ {
			r := c.decode[b]
			if _, exists := c.encode[r]; !exists {
				c.encode[r] = byte(b)
			}
		}
	}
	return c
}

func (c *petsciiCodec) Name() string { return "petscii" }

func (c *petsciiCodec) Encode(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := c.encode[r]
		if !ok {
			b = replacement
		}
		out = append(out, b)
	}
	return out
}

func (c *petsciiCodec) Decode(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = c.decode[b]
	}
	return string(runes)
}
