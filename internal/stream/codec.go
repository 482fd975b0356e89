package stream

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"marketlens/internal/domain"
	"marketlens/internal/seriescache"
)

// Wire shape of a Watch event:
//
//	{"recordId": 4151, "interval": "1h", "data": [{"timestamp": ..., "avgHighPrice": ...}, ...]}
//
// A Watch request is {"recordId": <id>} or {} for every record.

func watchRequest(recordID int) (*structpb.Struct, error) {
	fields := map[string]any{}
	if recordID >= 0 {
		fields["recordId"] = recordID
	}
	return structpb.NewStruct(fields)
}

// requestedRecord returns the record id a Watch request is scoped to, or -1.
func requestedRecord(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()["recordId"]
	if !ok {
		return -1, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue != float64(int(n.NumberValue)) {
		return 0, fmt.Errorf("recordId must be a non-negative integer")
	}
	return int(n.NumberValue), nil
}

func eventToStruct(e seriescache.Event) (*structpb.Struct, error) {
	data := make([]any, len(e.Data))
	for i, p := range e.Data {
		data[i] = p.Fields()
	}
	return structpb.NewStruct(map[string]any{
		"recordId": e.RecordID,
		"interval": string(e.Interval),
		"data":     data,
	})
}

func eventFromStruct(s *structpb.Struct) (seriescache.Event, error) {
	m := s.AsMap()
	var e seriescache.Event

	id, ok := m["recordId"].(float64)
	if !ok {
		return e, fmt.Errorf("event without recordId")
	}
	e.RecordID = int(id)

	ivs, _ := m["interval"].(string)
	iv, err := domain.ParseInterval(ivs)
	if err != nil {
		return e, err
	}
	e.Interval = iv

	raw, _ := m["data"].([]any)
	e.Data = make([]domain.SeriesPoint, 0, len(raw))
	for _, r := range raw {
		pm, ok := r.(map[string]any)
		if !ok {
			return e, fmt.Errorf("malformed series point")
		}
		e.Data = append(e.Data, pointFromMap(pm))
	}
	return e, nil
}

func pointFromMap(m map[string]any) domain.SeriesPoint {
	p := domain.SeriesPoint{
		Timestamp:       int64(number(m["timestamp"])),
		HighPriceVolume: int64(number(m["highPriceVolume"])),
		LowPriceVolume:  int64(number(m["lowPriceVolume"])),
	}
	if v, ok := m["avgHighPrice"].(float64); ok {
		p.AvgHighPrice = &v
	}
	if v, ok := m["avgLowPrice"].(float64); ok {
		p.AvgLowPrice = &v
	}
	return p
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
