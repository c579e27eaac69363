package ilp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// Packet type discriminators, first byte of every serialized packet.
const (
	TypePayment               = 1
	TypeLiquidityRequest      = 2
	TypeLiquidityResponse     = 3
	TypeBySourceRequest       = 4
	TypeBySourceResponse      = 5
	TypeByDestinationRequest  = 6
	TypeByDestinationResponse = 7
)

var (
	ErrPacketTooShort  = errors.New("packet too short")
	ErrTrailingBytes   = errors.New("unexpected bytes after packet contents")
	ErrAmountNotUint64 = errors.New("amount is not an unsigned 64-bit decimal string")
)

// Packet is the payment packet carried in a transfer's ilp field.
// The serialized bytes are the single source of truth for a payment:
// the PSK fulfillment is an HMAC over them, so they must round-trip
// byte-exact through every hop.
type Packet struct {
	DestinationAccount string
	DestinationAmount  string
	Data               []byte
}

func (p Packet) Serialize() ([]byte, error) {
	amount, err := parseAmount(p.DestinationAmount)
	if err != nil {
		return nil, err
	}
	var contents bytes.Buffer
	writeUint64(&contents, amount)
	writeVarOctets(&contents, []byte(p.DestinationAccount))
	writeVarOctets(&contents, p.Data)
	contents.WriteByte(0) // extensibility count
	return envelope(TypePayment, contents.Bytes()), nil
}

func DeserializePayment(packet []byte) (Packet, error) {
	contents, err := openEnvelope(packet, TypePayment)
	if err != nil {
		return Packet{}, err
	}
	r := &reader{buf: contents}
	amount := r.readUint64()
	account := r.readVarOctets()
	data := r.readVarOctets()
	r.readByte() // extensibility count
	if r.err != nil {
		return Packet{}, r.err
	}
	return Packet{
		DestinationAccount: string(account),
		DestinationAmount:  strconv.FormatUint(amount, 10),
		Data:               data,
	}, nil
}

// PacketType returns the type discriminator of a serialized packet
// without decoding its contents.
func PacketType(packet []byte) (byte, error) {
	if len(packet) < 1 {
		return 0, ErrPacketTooShort
	}
	return packet[0], nil
}

func parseAmount(s string) (uint64, error) {
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountNotUint64, s)
	}
	return amount, nil
}

// envelope prepends the type byte and the length-prefixed contents.
func envelope(packetType byte, contents []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(packetType)
	writeVarOctets(&buf, contents)
	return buf.Bytes()
}

func openEnvelope(packet []byte, wantType byte) ([]byte, error) {
	if len(packet) < 2 {
		return nil, ErrPacketTooShort
	}
	if packet[0] != wantType {
		return nil, fmt.Errorf("unexpected packet type %d, want %d", packet[0], wantType)
	}
	r := &reader{buf: packet[1:]}
	contents := r.readVarOctets()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, ErrTrailingBytes
	}
	return contents, nil
}

// OER primitives. Variable-length fields carry a length prefix: a single
// byte below 128, otherwise 0x80|n followed by n big-endian length bytes.

func writeVarOctets(buf *bytes.Buffer, b []byte) {
	n := len(b)
	if n < 128 {
		buf.WriteByte(byte(n))
	} else {
		lenBytes := make([]byte, 0, 4)
		for v := n; v > 0; v >>= 8 {
			lenBytes = append([]byte{byte(v)}, lenBytes...)
		}
		buf.WriteByte(0x80 | byte(len(lenBytes)))
		buf.Write(lenBytes)
	}
	buf.Write(b)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

type reader struct {
	buf []byte
	err error
}

func (r *reader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.err = ErrPacketTooShort
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrPacketTooShort
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) readUint64() uint64 {
	b := r.take(8)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) readUint32() uint32 {
	b := r.take(4)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) readVarOctets() []byte {
	first := r.readByte()
	if r.err != nil {
		return nil
	}
	n := int(first)
	if first >= 0x80 {
		lenBytes := r.take(int(first & 0x7f))
		if r.err != nil {
			return nil
		}
		if len(lenBytes) > 4 {
			r.err = errors.New("length prefix too large")
			return nil
		}
		n = 0
		for _, b := range lenBytes {
			n = n<<8 | int(b)
		}
	}
	return r.take(n)
}
