package ilp

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// ILQP quote messages. These travel over the ledger's request/response
// message channel, not inside transfers. Amounts stay decimal strings at
// the API boundary like Packet amounts; hold durations are milliseconds.

type BySourceRequest struct {
	DestinationAccount      string
	SourceAmount            string
	DestinationHoldDuration uint32
}

type BySourceResponse struct {
	DestinationAmount  string
	SourceHoldDuration uint32
}

type ByDestinationRequest struct {
	DestinationAccount      string
	DestinationAmount       string
	DestinationHoldDuration uint32
}

type ByDestinationResponse struct {
	SourceAmount       string
	SourceHoldDuration uint32
}

type LiquidityRequest struct {
	DestinationAccount      string
	DestinationHoldDuration uint32
}

// CurvePoint maps an input amount to the output amount the connector
// would pay for it. Curves are ordered by input amount.
type CurvePoint struct {
	Input  uint64
	Output uint64
}

type LiquidityResponse struct {
	LiquidityCurve     []CurvePoint
	AppliesToPrefix    string
	SourceHoldDuration uint32
	ExpiresAt          time.Time
}

const generalizedTimeFormat = "20060102150405.000Z"

func (q BySourceRequest) Serialize() ([]byte, error) {
	amount, err := parseAmount(q.SourceAmount)
	if err != nil {
		return nil, err
	}
	var contents bytes.Buffer
	writeVarOctets(&contents, []byte(q.DestinationAccount))
	writeUint64(&contents, amount)
	writeUint32(&contents, q.DestinationHoldDuration)
	contents.WriteByte(0)
	return envelope(TypeBySourceRequest, contents.Bytes()), nil
}

func DeserializeBySourceRequest(packet []byte) (BySourceRequest, error) {
	contents, err := openEnvelope(packet, TypeBySourceRequest)
	if err != nil {
		return BySourceRequest{}, err
	}
	r := &reader{buf: contents}
	account := r.readVarOctets()
	amount := r.readUint64()
	hold := r.readUint32()
	r.readByte()
	if r.err != nil {
		return BySourceRequest{}, r.err
	}
	return BySourceRequest{
		DestinationAccount:      string(account),
		SourceAmount:            strconv.FormatUint(amount, 10),
		DestinationHoldDuration: hold,
	}, nil
}

func (q BySourceResponse) Serialize() ([]byte, error) {
	amount, err := parseAmount(q.DestinationAmount)
	if err != nil {
		return nil, err
	}
	var contents bytes.Buffer
	writeUint64(&contents, amount)
	writeUint32(&contents, q.SourceHoldDuration)
	contents.WriteByte(0)
	return envelope(TypeBySourceResponse, contents.Bytes()), nil
}

func DeserializeBySourceResponse(packet []byte) (BySourceResponse, error) {
	contents, err := openEnvelope(packet, TypeBySourceResponse)
	if err != nil {
		return BySourceResponse{}, err
	}
	r := &reader{buf: contents}
	amount := r.readUint64()
	hold := r.readUint32()
	r.readByte()
	if r.err != nil {
		return BySourceResponse{}, r.err
	}
	return BySourceResponse{
		DestinationAmount:  strconv.FormatUint(amount, 10),
		SourceHoldDuration: hold,
	}, nil
}

func (q ByDestinationRequest) Serialize() ([]byte, error) {
	amount, err := parseAmount(q.DestinationAmount)
	if err != nil {
		return nil, err
	}
	var contents bytes.Buffer
	writeVarOctets(&contents, []byte(q.DestinationAccount))
	writeUint64(&contents, amount)
	writeUint32(&contents, q.DestinationHoldDuration)
	contents.WriteByte(0)
	return envelope(TypeByDestinationRequest, contents.Bytes()), nil
}

func DeserializeByDestinationRequest(packet []byte) (ByDestinationRequest, error) {
	contents, err := openEnvelope(packet, TypeByDestinationRequest)
	if err != nil {
		return ByDestinationRequest{}, err
	}
	r := &reader{buf: contents}
	account := r.readVarOctets()
	amount := r.readUint64()
	hold := r.readUint32()
	r.readByte()
	if r.err != nil {
		return ByDestinationRequest{}, r.err
	}
	return ByDestinationRequest{
		DestinationAccount:      string(account),
		DestinationAmount:       strconv.FormatUint(amount, 10),
		DestinationHoldDuration: hold,
	}, nil
}

func (q ByDestinationResponse) Serialize() ([]byte, error) {
	amount, err := parseAmount(q.SourceAmount)
	if err != nil {
		return nil, err
	}
	var contents bytes.Buffer
	writeUint64(&contents, amount)
	writeUint32(&contents, q.SourceHoldDuration)
	contents.WriteByte(0)
	return envelope(TypeByDestinationResponse, contents.Bytes()), nil
}

func DeserializeByDestinationResponse(packet []byte) (ByDestinationResponse, error) {
	contents, err := openEnvelope(packet, TypeByDestinationResponse)
	if err != nil {
		return ByDestinationResponse{}, err
	}
	r := &reader{buf: contents}
	amount := r.readUint64()
	hold := r.readUint32()
	r.readByte()
	if r.err != nil {
		return ByDestinationResponse{}, r.err
	}
	return ByDestinationResponse{
		SourceAmount:       strconv.FormatUint(amount, 10),
		SourceHoldDuration: hold,
	}, nil
}

func (q LiquidityRequest) Serialize() ([]byte, error) {
	var contents bytes.Buffer
	writeVarOctets(&contents, []byte(q.DestinationAccount))
	writeUint32(&contents, q.DestinationHoldDuration)
	contents.WriteByte(0)
	return envelope(TypeLiquidityRequest, contents.Bytes()), nil
}

func DeserializeLiquidityRequest(packet []byte) (LiquidityRequest, error) {
	contents, err := openEnvelope(packet, TypeLiquidityRequest)
	if err != nil {
		return LiquidityRequest{}, err
	}
	r := &reader{buf: contents}
	account := r.readVarOctets()
	hold := r.readUint32()
	r.readByte()
	if r.err != nil {
		return LiquidityRequest{}, r.err
	}
	return LiquidityRequest{
		DestinationAccount:      string(account),
		DestinationHoldDuration: hold,
	}, nil
}

func (q LiquidityResponse) Serialize() ([]byte, error) {
	var curve bytes.Buffer
	for _, p := range q.LiquidityCurve {
		writeUint64(&curve, p.Input)
		writeUint64(&curve, p.Output)
	}
	var contents bytes.Buffer
	writeVarOctets(&contents, curve.Bytes())
	writeVarOctets(&contents, []byte(q.AppliesToPrefix))
	writeUint32(&contents, q.SourceHoldDuration)
	writeVarOctets(&contents, []byte(q.ExpiresAt.UTC().Format(generalizedTimeFormat)))
	contents.WriteByte(0)
	return envelope(TypeLiquidityResponse, contents.Bytes()), nil
}

func DeserializeLiquidityResponse(packet []byte) (LiquidityResponse, error) {
	contents, err := openEnvelope(packet, TypeLiquidityResponse)
	if err != nil {
		return LiquidityResponse{}, err
	}
	r := &reader{buf: contents}
	curveBytes := r.readVarOctets()
	prefix := r.readVarOctets()
	hold := r.readUint32()
	expiresAt := r.readVarOctets()
	r.readByte()
	if r.err != nil {
		return LiquidityResponse{}, r.err
	}
	if len(curveBytes)%16 != 0 {
		return LiquidityResponse{}, fmt.Errorf("liquidity curve length %d is not a multiple of 16", len(curveBytes))
	}
	curve := make([]CurvePoint, 0, len(curveBytes)/16)
	cr := &reader{buf: curveBytes}
	for len(cr.buf) > 0 {
		curve = append(curve, CurvePoint{Input: cr.readUint64(), Output: cr.readUint64()})
	}
	t, err := time.Parse(generalizedTimeFormat, string(expiresAt))
	if err != nil {
		return LiquidityResponse{}, fmt.Errorf("bad expiresAt timestamp %q: %w", expiresAt, err)
	}
	return LiquidityResponse{
		LiquidityCurve:     curve,
		AppliesToPrefix:    string(prefix),
		SourceHoldDuration: hold,
		ExpiresAt:          t,
	}, nil
}
