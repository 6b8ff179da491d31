// Package dnsapp implements a minimal RFC7766 DNS-over-TCP responder. It
// speaks purely through a ByteStream's Reader/Writer capability views, so
// it never touches segments, sequence numbers, or anything else specific
// to how the bytes got there.
package dnsapp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/tinyrange/minnow/internal/stream"
)

// ErrStreamErrored is returned by Poll once the inbound stream has been
// marked errored (e.g. the connection it rides on saw an RST).
var ErrStreamErrored = errors.New("dnsapp: inbound stream errored")

// Zone is a static in-memory set of A records, keyed by fully-qualified
// domain name (as dns.Fqdn would produce it).
type Zone map[string]net.IP

// Responder answers A-record queries out of a fixed Zone, framing
// messages on the wire per RFC1035 section 4.2.2: a two-byte big-endian
// length prefix followed by the DNS message.
type Responder struct {
	in   stream.Reader
	out  stream.Writer
	zone Zone

	pending []byte
}

// NewResponder constructs a Responder reading queries from in and writing
// responses to out.
func NewResponder(in stream.Reader, out stream.Writer, zone Zone) *Responder {
	return &Responder{in: in, out: out, zone: zone}
}

// Poll drains whatever bytes are currently available on the inbound
// stream, answers any complete length-prefixed messages found, and
// returns once no full message remains buffered.
func (r *Responder) Poll() error {
	if chunk := r.in.Peek(); len(chunk) > 0 {
		r.pending = append(r.pending, chunk...)
		r.in.Pop(uint64(len(chunk)))
	}

	for {
		if len(r.pending) < 2 {
			break
		}
		want := int(binary.BigEndian.Uint16(r.pending[:2]))
		if len(r.pending)-2 < want {
			break
		}
		query := r.pending[2 : 2+want]
		r.pending = r.pending[2+want:]
		if err := r.answer(query); err != nil {
			return err
		}
	}

	if r.in.HasError() {
		return ErrStreamErrored
	}
	return nil
}

func (r *Responder) answer(raw []byte) error {
	var query dns.Msg
	if err := query.Unpack(raw); err != nil {
		return fmt.Errorf("dnsapp: unpack query: %w", err)
	}

	resp := new(dns.Msg)
	resp.SetReply(&query)
	resp.Authoritative = true

	for _, q := range query.Question {
		if q.Qtype != dns.TypeA || q.Qclass != dns.ClassINET {
			continue
		}
		ip, ok := r.zone[q.Name]
		if !ok {
			resp.Rcode = dns.RcodeNameError
			continue
		}
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    300,
			},
			A: ip,
		})
	}

	packed, err := resp.Pack()
	if err != nil {
		return fmt.Errorf("dnsapp: pack response: %w", err)
	}
	if len(packed) > 0xffff {
		return fmt.Errorf("dnsapp: response too large for a 2-byte length prefix: %d bytes", len(packed))
	}

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(packed)))
	r.out.Push(prefix[:])
	r.out.Push(packed)
	return nil
}
