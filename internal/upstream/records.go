package upstream

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"marketlens/internal/domain"
)

// Snapshot is one consistent pull of every id-keyed endpoint.
type Snapshot struct {
	Items   []Item
	Latest  map[int]Latest
	Avg5m   map[int]Average
	Avg1h   map[int]Average
	Volumes map[int]int64
}

// Snapshot fetches all id-keyed endpoints concurrently.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { s.Items, err = c.Mapping(ctx); return })
	g.Go(func() (err error) { s.Latest, err = c.Latest(ctx); return })
	g.Go(func() (err error) { s.Avg5m, err = c.Averages(ctx, domain.Interval5m); return })
	g.Go(func() (err error) { s.Avg1h, err = c.Averages(ctx, domain.Interval1h); return })
	g.Go(func() (err error) { s.Volumes, err = c.Volumes(ctx); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load implements catalog.Loader.
func (c *Client) Load(ctx context.Context) ([]domain.Record, error) {
	s, err := c.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	return BuildRecords(s), nil
}

// BuildRecords merges a snapshot into one record per mapped item, ordered by
// id. Prices and volumes absent from the provider become nil facts.
//
// Fact names:
//
//	members, examine, icon, value, limit, lowalch, highalch
//	high, low, highTime, lowTime                   latest trades
//	avgHighPrice5m, avgLowPrice5m,
//	highPriceVolume5m, lowPriceVolume5m            and the 1h equivalents
//	volume                                         24h traded units
func BuildRecords(s *Snapshot) []domain.Record {
	recs := make([]domain.Record, 0, len(s.Items))
	for _, it := range s.Items {
		facts := map[string]any{
			"members":  it.Members,
			"examine":  it.Examine,
			"icon":     it.Icon,
			"value":    float64(it.Value),
			"limit":    num(it.Limit),
			"lowalch":  num(it.LowAlch),
			"highalch": num(it.HighAlch),
			"volume":   nil,
		}

		l := s.Latest[it.ID]
		facts["high"] = num(l.High)
		facts["low"] = num(l.Low)
		facts["highTime"] = num(l.HighTime)
		facts["lowTime"] = num(l.LowTime)

		addAverage(facts, "5m", s.Avg5m, it.ID)
		addAverage(facts, "1h", s.Avg1h, it.ID)

		if v, ok := s.Volumes[it.ID]; ok {
			facts["volume"] = float64(v)
		}

		recs = append(recs, domain.Record{ID: it.ID, Name: it.Name, Facts: facts})
	}
	slices.SortFunc(recs, func(a, b domain.Record) int { return a.ID - b.ID })
	return recs
}

func addAverage(facts map[string]any, suffix string, m map[int]Average, id int) {
	a, ok := m[id]
	facts["avgHighPrice"+suffix] = num(a.AvgHighPrice)
	facts["avgLowPrice"+suffix] = num(a.AvgLowPrice)
	if !ok {
		facts["highPriceVolume"+suffix] = nil
		facts["lowPriceVolume"+suffix] = nil
		return
	}
	facts["highPriceVolume"+suffix] = float64(a.HighPriceVolume)
	facts["lowPriceVolume"+suffix] = float64(a.LowPriceVolume)
}

func num(p *int64) any {
	if p == nil {
		return nil
	}
	return float64(*p)
}
