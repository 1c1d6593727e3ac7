// Package telnet provides the terminal-side transport: a TCP acceptor and a
// connection wrapper that negotiates Telnet options and exchanges clean data
// bytes with the session layer.
package telnet

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Telnet IAC (Interpret As Command) constants per RFC 854.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	SE   byte = 240 // Sub-negotiation End
	NOP  byte = 241
	GA   byte = 249 // Go Ahead

	// Telnet options
	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
	OptLinemode        byte = 34
)

// Profile is the protocol-compatibility table applied to every connection.
type Profile struct {
	// Echo makes the server echo received data (IAC WILL ECHO).
	Echo bool
	// SuppressGoAhead announces IAC WILL SUPPRESS-GO-AHEAD.
	SuppressGoAhead bool
	// Linemode requests client-side line editing (IAC DO LINEMODE).
	Linemode bool
}

// DefaultProfile is the table used for 8-bit terminals: the server echoes,
// go-ahead is suppressed and line mode is left to the client to refuse.
func DefaultProfile() Profile {
	return Profile{Echo: true, SuppressGoAhead: true, Linemode: true}
}

// Conn wraps a TCP connection with Telnet protocol handling.
// Reads return data bytes with every IAC sequence removed; writes escape
// literal 0xFF bytes.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration

	// pendingCR is set when the last data byte read was CR, so that a
	// following LF or NUL can be folded into it.
	pendingCR bool
}

// NewConn wraps a raw TCP connection with Telnet protocol handling.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Negotiate sends the option negotiations described by profile.
//
// Postcondition: Negotiation bytes are written to the connection.
func (c *Conn) Negotiate(profile Profile) error {
	var negotiations []byte
	if profile.Echo {
		negotiations = append(negotiations, IAC, WILL, OptEcho)
	}
	if profile.SuppressGoAhead {
		negotiations = append(negotiations, IAC, WILL, OptSuppressGoAhead)
	}
	if profile.Linemode {
		negotiations = append(negotiations, IAC, DO, OptLinemode)
	}
	if len(negotiations) == 0 {
		return nil
	}
	return c.writeRaw(negotiations)
}

// Read blocks until at least one data byte is available and returns every
// data byte currently buffered. IAC sequences are consumed silently; CR LF
// and CR NUL are folded into a single CR.
//
// Postcondition: Returns a non-empty chunk, or an error (including io.EOF).
func (c *Conn) Read() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var data []byte
	for len(data) == 0 || c.reader.Buffered() > 0 {
		b, err := c.reader.ReadByte()
		if err != nil {
			if len(data) > 0 {
				return data, nil
			}
			return nil, err
		}

		if b == IAC {
			literal, err := c.handleIAC()
			if err != nil {
				return data, err
			}
			if literal {
				c.pendingCR = false
				data = append(data, IAC)
			}
			continue
		}

		if c.pendingCR && (b == '\n' || b == 0) {
			c.pendingCR = false
			continue
		}
		c.pendingCR = b == '\r'
		data = append(data, b)
	}
	return data, nil
}

// handleIAC processes a Telnet IAC sequence after the initial IAC byte
// has been read. It reports whether the sequence was an escaped data byte.
func (c *Conn) handleIAC() (bool, error) {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return false, err
	}

	switch cmd {
	case WILL, WONT, DO, DONT:
		// These commands have one option byte following
		_, err := c.reader.ReadByte()
		return false, err
	case SB:
		// Sub-negotiation: read until IAC SE
		for {
			b, err := c.reader.ReadByte()
			if err != nil {
				return false, err
			}
			if b == IAC {
				next, err := c.reader.ReadByte()
				if err != nil {
					return false, err
				}
				if next == SE {
					return false, nil
				}
			}
		}
	case IAC:
		return true, nil
	default:
		// NOP, GA and other bare commands are ignored
		return false, nil
	}
}

// Write sends data bytes to the client, doubling any literal IAC byte.
//
// Postcondition: The escaped data is written to the connection.
func (c *Conn) Write(data []byte) error {
	return c.writeRaw(EscapeIAC(data))
}

func (c *Conn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write(data)
	return err
}

// Close closes the underlying TCP connection.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// EscapeIAC doubles every 0xFF byte so it is sent as data rather than as a
// command introducer.
//
// Postcondition: Returns a new slice; input is not modified.
func EscapeIAC(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b == IAC {
			out = append(out, IAC)
		}
		out = append(out, b)
	}
	return out
}

// FilterIAC removes Telnet IAC sequences from raw input bytes.
// This is a pure function useful for testing and protocol parsing.
//
// Postcondition: Returns input with all IAC sequences removed.
func FilterIAC(input []byte) []byte {
	result := make([]byte, 0, len(input))
	i := 0
	for i < len(input) {
		if input[i] == IAC && i+1 < len(input) {
			cmd := input[i+1]
			switch cmd {
			case WILL, WONT, DO, DONT:
				// Skip IAC + cmd + option
				i += 3
				continue
			case SB:
				// Skip until IAC SE
				j := i + 2
				for j < len(input)-1 {
					if input[j] == IAC && input[j+1] == SE {
						j += 2
						break
					}
					j++
				}
				i = j
				continue
			case IAC:
				// Escaped 0xFF emits one 0xFF
				result = append(result, IAC)
				i += 2
				continue
			default:
				// Other commands: skip IAC + cmd
				i += 2
				continue
			}
		}
		result = append(result, input[i])
		i++
	}
	return result
}
