package relay

import "fmt"

// Annotate renders the line echoed to the console and sent to members:
//
//	📡 ([host]:port) --Nb--> text
//
// n is the size of the datagram as received, before stripping.
func Annotate(host string, port uint16, n int, text []byte) []byte {
	return fmt.Appendf(nil, "\U0001F4E1 ([%s]:%d) --%db--> %s\n", host, port, n, text)
}

// StripTrailing drops the final byte of pkt, which line-oriented clients
// send as '\n'. The byte is dropped whatever it is, so a message sent without
// a terminator loses its last character.
func StripTrailing(pkt []byte) []byte {
	if len(pkt) == 0 {
		return pkt
	}
	return pkt[:len(pkt)-1]
}
