package recstore

import (
	"bytes"
	"errors"
	"io"
	"math"
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/peerrank/autopilot"
)

const (
	// Record types of a serialized recommendation set.
	setCycleType           tlv.Type = 0
	setTimestampType       tlv.Type = 2
	setRecommendationsType tlv.Type = 4
	setSucceededType       tlv.Type = 6
	setDroppedType         tlv.Type = 8

	// Record types of a single serialized recommendation.
	recNodeIDType    tlv.Type = 0
	recScoreType     tlv.Type = 2
	recBreakdownType tlv.Type = 4
)

// writeBytes writes b prefixed with its varint encoded length.
func writeBytes(w io.Writer, b []byte, scratch *[8]byte) error {
	if err := tlv.WriteVarInt(w, uint64(len(b)), scratch); err != nil {
		return err
	}
	_, err := w.Write(b)

	return err
}

// readBytes reads a varint length prefixed byte slice.
func readBytes(r *bytes.Reader, scratch *[8]byte) ([]byte, error) {
	l, err := tlv.ReadVarInt(r, scratch)
	if err != nil {
		return nil, err
	}
	if l > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}

	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return b, nil
}

// encodeList serializes a list of byte slices.
func encodeList(items [][]byte) ([]byte, error) {
	var (
		b       bytes.Buffer
		scratch [8]byte
	)
	err := tlv.WriteVarInt(&b, uint64(len(items)), &scratch)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := writeBytes(&b, item, &scratch); err != nil {
			return nil, err
		}
	}

	return b.Bytes(), nil
}

// decodeList is the inverse of encodeList.
func decodeList(raw []byte) ([][]byte, error) {
	var scratch [8]byte

	r := bytes.NewReader(raw)
	n, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return nil, err
	}

	// Every item takes at least one byte for its length.
	if n > uint64(len(raw)) {
		return nil, io.ErrUnexpectedEOF
	}

	items := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		item, err := readBytes(r, &scratch)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// encodeNamedFloats serializes a map of names to float values, sorted by
// name so the encoding is deterministic.
func encodeNamedFloats(m map[string]float64) ([]byte, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([][]byte, 0, 2*len(names))
	for _, name := range names {
		var v [8]byte
		byteOrder.PutUint64(v[:], math.Float64bits(m[name]))
		items = append(items, []byte(name), v[:])
	}

	return encodeList(items)
}

func decodeNamedFloats(raw []byte) (map[string]float64, error) {
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	if len(items)%2 != 0 {
		return nil, errors.New("odd number of breakdown items")
	}

	m := make(map[string]float64, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		if len(items[i+1]) != 8 {
			return nil, errors.New("invalid breakdown value")
		}
		m[string(items[i])] = math.Float64frombits(
			byteOrder.Uint64(items[i+1]),
		)
	}

	return m, nil
}

func encodeRecommendation(w io.Writer, rec *autopilot.Recommendation) error {
	var (
		nodeID    = [33]byte(rec.NodeID)
		score     = math.Float64bits(rec.Score)
		breakdown []byte
		err       error
	)
	breakdown, err = encodeNamedFloats(rec.Breakdown)
	if err != nil {
		return err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(recNodeIDType, &nodeID),
		tlv.MakePrimitiveRecord(recScoreType, &score),
		tlv.MakePrimitiveRecord(recBreakdownType, &breakdown),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeRecommendation(r io.Reader) (autopilot.Recommendation, error) {
	var (
		rec       autopilot.Recommendation
		nodeID    [33]byte
		score     uint64
		breakdown []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(recNodeIDType, &nodeID),
		tlv.MakePrimitiveRecord(recScoreType, &score),
		tlv.MakePrimitiveRecord(recBreakdownType, &breakdown),
	)
	if err != nil {
		return rec, err
	}
	if err := stream.Decode(r); err != nil {
		return rec, err
	}

	rec.NodeID = autopilot.NodeID(nodeID)
	rec.Score = math.Float64frombits(score)
	rec.Breakdown, err = decodeNamedFloats(breakdown)
	if err != nil {
		return rec, err
	}

	return rec, nil
}

// serializeSet encodes a recommendation set as a TLV stream. Dropped
// strategies are stored with their error message only.
func serializeSet(w io.Writer, set *autopilot.RecommendationSet) error {
	recs := make([][]byte, 0, len(set.Recommendations))
	for i := range set.Recommendations {
		var b bytes.Buffer
		err := encodeRecommendation(&b, &set.Recommendations[i])
		if err != nil {
			return err
		}
		recs = append(recs, b.Bytes())
	}

	succeeded := make([][]byte, 0, len(set.Succeeded))
	for _, name := range set.Succeeded {
		succeeded = append(succeeded, []byte(name))
	}

	names := make([]string, 0, len(set.Dropped))
	for name := range set.Dropped {
		names = append(names, name)
	}
	sort.Strings(names)

	dropped := make([][]byte, 0, 2*len(names))
	for _, name := range names {
		msg := "unknown error"
		if err := set.Dropped[name]; err != nil {
			msg = err.Error()
		}
		dropped = append(dropped, []byte(name), []byte(msg))
	}

	var (
		cycle     = set.Cycle
		timestamp = uint64(set.Timestamp.UnixNano())
	)
	recBytes, err := encodeList(recs)
	if err != nil {
		return err
	}
	succeededBytes, err := encodeList(succeeded)
	if err != nil {
		return err
	}
	droppedBytes, err := encodeList(dropped)
	if err != nil {
		return err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(setCycleType, &cycle),
		tlv.MakePrimitiveRecord(setTimestampType, &timestamp),
		tlv.MakePrimitiveRecord(setRecommendationsType, &recBytes),
		tlv.MakePrimitiveRecord(setSucceededType, &succeededBytes),
		tlv.MakePrimitiveRecord(setDroppedType, &droppedBytes),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// deserializeSet decodes a recommendation set written by serializeSet.
func deserializeSet(r io.Reader) (*autopilot.RecommendationSet, error) {
	var (
		cycle          uint64
		timestamp      uint64
		recBytes       []byte
		succeededBytes []byte
		droppedBytes   []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(setCycleType, &cycle),
		tlv.MakePrimitiveRecord(setTimestampType, &timestamp),
		tlv.MakePrimitiveRecord(setRecommendationsType, &recBytes),
		tlv.MakePrimitiveRecord(setSucceededType, &succeededBytes),
		tlv.MakePrimitiveRecord(setDroppedType, &droppedBytes),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	set := &autopilot.RecommendationSet{
		Cycle:     cycle,
		Timestamp: time.Unix(0, int64(timestamp)),
	}

	recs, err := decodeList(recBytes)
	if err != nil {
		return nil, err
	}
	set.Recommendations = make([]autopilot.Recommendation, 0, len(recs))
	for _, raw := range recs {
		rec, err := decodeRecommendation(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		set.Recommendations = append(set.Recommendations, rec)
	}

	succeeded, err := decodeList(succeededBytes)
	if err != nil {
		return nil, err
	}
	for _, name := range succeeded {
		set.Succeeded = append(set.Succeeded, string(name))
	}

	dropped, err := decodeList(droppedBytes)
	if err != nil {
		return nil, err
	}
	if len(dropped)%2 != 0 {
		return nil, errors.New("odd number of dropped items")
	}
	set.Dropped = make(map[string]error, len(dropped)/2)
	for i := 0; i < len(dropped); i += 2 {
		set.Dropped[string(dropped[i])] = errors.New(
			string(dropped[i+1]),
		)
	}

	return set, nil
}
