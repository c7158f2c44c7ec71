package dnsserver

import (
	"encoding/binary"
	"net"

	"github.com/miekg/dns"
)

const (
	headerLen = 12
	maxPacket = 512

	// QR, RD and RA set; opcode QUERY.
	responseFlags = 0x8180 | dns.RcodeSuccess

	// Compression pointer to the first question name, right after the header.
	questionPointer = 0xC000 | headerLen
)

// answer builds the reply to query: the query echoed back with response
// flags and one A record for ip appended. It returns false for packets too
// short to carry a header and for messages without a parseable question,
// since the answer name points at the first question.
func answer(query []byte, ip net.IP, ttl uint32) ([]byte, bool) {
	if len(query) < headerLen {
		return nil, false
	}

	var msg dns.Msg
	if err := msg.Unpack(query); err != nil || len(msg.Question) == 0 {
		return nil, false
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, false
	}

	body := query
	arcount := binary.BigEndian.Uint16(query[10:12])
	nscount := binary.BigEndian.Uint16(query[8:10])

	// Trailing authority or additional records (EDNS) would sit between
	// the question and our answer, so cut them off.
	if end, ok := questionEnd(query); ok {
		body = query[:end]
		nscount, arcount = 0, 0
	}

	resp := make([]byte, len(body), len(body)+16)
	copy(resp, body)

	binary.BigEndian.PutUint16(resp[2:4], responseFlags)
	binary.BigEndian.PutUint16(resp[6:8], 1)
	binary.BigEndian.PutUint16(resp[8:10], nscount)
	binary.BigEndian.PutUint16(resp[10:12], arcount)

	resp = binary.BigEndian.AppendUint16(resp, questionPointer)
	resp = binary.BigEndian.AppendUint16(resp, dns.TypeA)
	resp = binary.BigEndian.AppendUint16(resp, dns.ClassINET)
	resp = binary.BigEndian.AppendUint32(resp, ttl)
	resp = binary.BigEndian.AppendUint16(resp, net.IPv4len)
	resp = append(resp, ip4...)

	return resp, true
}

// questionEnd returns the offset just past a single, uncompressed question.
func questionEnd(msg []byte) (int, bool) {
	if binary.BigEndian.Uint16(msg[4:6]) != 1 {
		return 0, false
	}

	off := headerLen
	for {
		if off >= len(msg) {
			return 0, false
		}
		l := int(msg[off])
		if l == 0 {
			off++
			break
		}
		if l&0xC0 != 0 {
			return 0, false
		}
		off += 1 + l
	}

	// QTYPE and QCLASS
	off += 4
	if off > len(msg) {
		return 0, false
	}

	return off, true
}
