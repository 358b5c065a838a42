// Package wire provides a compact binary encoding for market data
// distribution: book snapshots and trade ticks. Prices and quantities are
// carried as fixed-point integers scaled by 1e6, big-endian throughout.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/outcomex/internal/types"
)

const (
	magic   uint16 = 0x4F58 // "OX"
	version byte   = 1

	msgSnapshot byte = 1
	msgTrade    byte = 2

	priceScale int32 = -6
)

var (
	ErrBadMagic     = errors.New("wire: bad magic")
	ErrBadVersion   = errors.New("wire: unsupported version")
	ErrBadMessage   = errors.New("wire: unexpected message type")
	ErrTruncated    = errors.New("wire: truncated message")
	ErrStringLength = errors.New("wire: string too long")
)

func putFixed(buf *bytes.Buffer, d decimal.Decimal) {
	binary.Write(buf, binary.BigEndian, d.Shift(-priceScale).IntPart())
}

func getFixed(r *bytes.Reader) (decimal.Decimal, error) {
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return decimal.Zero, ErrTruncated
	}
	return decimal.New(v, priceScale), nil
}

func putString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return ErrStringLength
	}
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

func getString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", ErrTruncated
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrTruncated
	}
	return string(b), nil
}

func putHeader(buf *bytes.Buffer, msgType byte) {
	binary.Write(buf, binary.BigEndian, magic)
	buf.WriteByte(version)
	buf.WriteByte(msgType)
}

func checkHeader(r *bytes.Reader, want byte) error {
	var m uint16
	if err := binary.Read(r, binary.BigEndian, &m); err != nil {
		return ErrTruncated
	}
	if m != magic {
		return ErrBadMagic
	}
	v, err := r.ReadByte()
	if err != nil {
		return ErrTruncated
	}
	if v != version {
		return ErrBadVersion
	}
	t, err := r.ReadByte()
	if err != nil {
		return ErrTruncated
	}
	if t != want {
		return ErrBadMessage
	}
	return nil
}

func outcomeByte(o types.Outcome) byte {
	if o == types.OutcomeYes {
		return 1
	}
	return 0
}

func byteOutcome(b byte) types.Outcome {
	if b == 1 {
		return types.OutcomeYes
	}
	return types.OutcomeNo
}

// EncodeSnapshot serializes an aggregated book snapshot.
func EncodeSnapshot(snap *types.BookSnapshot) ([]byte, error) {
	buf := &bytes.Buffer{}
	putHeader(buf, msgSnapshot)
	if err := putString(buf, snap.MarketID); err != nil {
		return nil, err
	}
	buf.WriteByte(outcomeByte(snap.Outcome))
	binary.Write(buf, binary.BigEndian, snap.Timestamp.UnixNano())

	for _, side := range [][]types.PriceLevelSnapshot{snap.Bids, snap.Asks} {
		binary.Write(buf, binary.BigEndian, uint16(len(side)))
		for _, level := range side {
			putFixed(buf, level.Price)
			putFixed(buf, level.Quantity)
			binary.Write(buf, binary.BigEndian, uint32(level.Orders))
		}
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a snapshot message. Best bid, ask and spread are
// rederived from the levels.
func DecodeSnapshot(data []byte) (*types.BookSnapshot, error) {
	r := bytes.NewReader(data)
	if err := checkHeader(r, msgSnapshot); err != nil {
		return nil, err
	}

	snap := &types.BookSnapshot{}
	var err error
	if snap.MarketID, err = getString(r); err != nil {
		return nil, err
	}
	ob, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	snap.Outcome = byteOutcome(ob)
	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return nil, ErrTruncated
	}
	snap.Timestamp = time.Unix(0, nanos).UTC()

	for i := 0; i < 2; i++ {
		var count uint16
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, ErrTruncated
		}
		levels := make([]types.PriceLevelSnapshot, count)
		for j := range levels {
			if levels[j].Price, err = getFixed(r); err != nil {
				return nil, err
			}
			if levels[j].Quantity, err = getFixed(r); err != nil {
				return nil, err
			}
			var orders uint32
			if err := binary.Read(r, binary.BigEndian, &orders); err != nil {
				return nil, ErrTruncated
			}
			levels[j].Orders = int(orders)
		}
		if i == 0 {
			snap.Bids = levels
		} else {
			snap.Asks = levels
		}
	}

	if len(snap.Bids) > 0 {
		p := snap.Bids[0].Price
		snap.BestBid = &p
	}
	if len(snap.Asks) > 0 {
		p := snap.Asks[0].Price
		snap.BestAsk = &p
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}
	return snap, nil
}

// EncodeTrade serializes a trade tick. Order and agent identifiers are
// omitted; the tick carries only public tape fields.
func EncodeTrade(t *types.Trade) ([]byte, error) {
	buf := &bytes.Buffer{}
	putHeader(buf, msgTrade)
	if err := putString(buf, t.TradeID); err != nil {
		return nil, err
	}
	if err := putString(buf, t.MarketID); err != nil {
		return nil, err
	}
	buf.WriteByte(outcomeByte(t.Outcome))
	putFixed(buf, t.Price)
	putFixed(buf, t.Quantity)
	binary.Write(buf, binary.BigEndian, t.ExecutedAt.UnixNano())
	return buf.Bytes(), nil
}

// DecodeTrade parses a trade tick.
func DecodeTrade(data []byte) (*types.Trade, error) {
	r := bytes.NewReader(data)
	if err := checkHeader(r, msgTrade); err != nil {
		return nil, err
	}

	t := &types.Trade{}
	var err error
	if t.TradeID, err = getString(r); err != nil {
		return nil, err
	}
	if t.MarketID, err = getString(r); err != nil {
		return nil, err
	}
	ob, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncated
	}
	t.Outcome = byteOutcome(ob)
	if t.Price, err = getFixed(r); err != nil {
		return nil, err
	}
	if t.Quantity, err = getFixed(r); err != nil {
		return nil, err
	}
	var nanos int64
	if err := binary.Read(r, binary.BigEndian, &nanos); err != nil {
		return nil, ErrTruncated
	}
	t.ExecutedAt = time.Unix(0, nanos).UTC()
	return t, nil
}
