package codec

import "golang.org/x/text/encoding/charmap"

// replacement is written for runes the target character set lacks.
const replacement = '?'

// charmapCodec adapts a single-byte x/text character map.
type charmapCodec struct {
	name string
	cm   *charmap.Charmap
}

// Latin1 returns the ISO 8859-1 codec.
func Latin1() Codec {
	return &charmapCodec{name: "latin1", cm: charmap.ISO8859_1}
}

// CP437 returns the IBM PC code page 437 codec used by DOS-era terminals.
func CP437() Codec {
	return &charmapCodec{name: "cp437", cm: charmap.CodePage437}
}

func (c *charmapCodec) Name() string { return c.name }

func (c *charmapCodec) Encode(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := c.cm.EncodeRune(r)
		if !ok {
			b = replacement
		}
		out = append(out, b)
	}
	return out
}

func (c *charmapCodec) Decode(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = c.cm.DecodeByte(b)
	}
	return string(runes)
}
