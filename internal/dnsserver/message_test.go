package dnsserver

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packQuery(t *testing.T, name string, edns bool) []byte {
	t.Helper()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	if edns {
		m.SetEdns0(1232, false)
	}

	raw, err := m.Pack()
	require.NoError(t, err)

	return raw
}

func TestAnswerLayout(t *testing.T) {
	q := packQuery(t, "example.com", false)

	resp, ok := answer(q, net.IPv4(192, 168, 4, 1), 60)
	require.True(t, ok)

	assert.Equal(t, q[:2], resp[:2], "id echoed")
	assert.Equal(t, uint16(0x8180), binary.BigEndian.Uint16(resp[2:4]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(resp[6:8]))
	assert.Equal(t, q[12:], resp[12:len(q)], "question echoed verbatim")

	tail := resp[len(q):]
	assert.Equal(t, []byte{
		0xC0, 0x0C,
		0x00, 0x01,
		0x00, 0x01,
		0x00, 0x00, 0x00, 0x3C,
		0x00, 0x04,
		192, 168, 4, 1,
	}, tail)
}

func TestAnswerDropsAdditionalSection(t *testing.T) {
	q := packQuery(t, "example.com", true)
	require.Equal(t, uint16(1), binary.BigEndian.Uint16(q[10:12]))

	resp, ok := answer(q, net.IPv4(192, 168, 4, 1), 60)
	require.True(t, ok)
	assert.Zero(t, binary.BigEndian.Uint16(resp[10:12]))

	var m dns.Msg
	require.NoError(t, m.Unpack(resp))
	require.Len(t, m.Answer, 1)
	assert.Empty(t, m.Extra)
}

func TestAnswerShortPacket(t *testing.T) {
	for n := 0; n < headerLen; n++ {
		_, ok := answer(make([]byte, n), net.IPv4(192, 168, 4, 1), 60)
		assert.False(t, ok, "len %d", n)
	}
}

func TestAnswerWithoutQuestionIsDropped(t *testing.T) {
	// A bare header has QDCOUNT 0; the answer pointer would point at itself.
	_, ok := answer(make([]byte, headerLen), net.IPv4(192, 168, 4, 1), 60)
	assert.False(t, ok)

	// QDCOUNT claims a question the packet does not carry.
	q := make([]byte, headerLen)
	binary.BigEndian.PutUint16(q[4:6], 1)
	_, ok = answer(q, net.IPv4(192, 168, 4, 1), 60)
	assert.False(t, ok)

	// Truncated question name.
	full := packQuery(t, "example.com", false)
	_, ok = answer(full[:headerLen+4], net.IPv4(192, 168, 4, 1), 60)
	assert.False(t, ok)
}

func TestAnswerIsParseable(t *testing.T) {
	resp, ok := answer(packQuery(t, "captive.apple.com", false), net.IPv4(192, 168, 4, 1), 60)
	require.True(t, ok)

	var m dns.Msg
	require.NoError(t, m.Unpack(resp))
	require.Len(t, m.Answer, 1)
	assert.Equal(t, "captive.apple.com.", m.Answer[0].Header().Name)
}
