package streamclient

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// depthEvent is one depthUpdate payload, shared by the single-pair and
// combined streams. Pu is only populated on futures streams.
type depthEvent struct {
	EventType string     `json:"e"`
	Symbol    string     `json:"s"`
	U         int64      `json:"U"`
	U2        int64      `json:"u"`
	Pu        int64      `json:"pu"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// combinedEnvelope wraps a depthEvent with its stream name, as delivered by
// the combined-futures stream.
type combinedEnvelope struct {
	Stream string     `json:"stream"`
	Data   depthEvent `json:"data"`
}

func (e depthEvent) toDiff() model.Diff {
	return model.Diff{
		U:   e.U,
		U2:  e.U2,
		Pu:  e.Pu,
		Bid: parseLevels(e.Bids),
		Ask: parseLevels(e.Asks),
	}
}

func parseLevels(raw [][]string) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, e := range raw {
		if len(e) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(e[0], 64)
		qty, err2 := strconv.ParseFloat(e[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, model.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

// streamName builds the exact Binance stream-name string for symbol/segment.
func streamName(symbol string, segment model.Segment, interval string, warn func(string)) string {
	lower := strings.ToLower(symbol)
	switch interval {
	case "", "1000ms":
		return lower + "@depth"
	case "100ms":
		return lower + "@depth@100ms"
	case "500ms":
		if segment == model.Futures {
			return lower + "@depth@500ms"
		}
		warn("500ms depth interval is futures-only; falling back to default")
		return lower + "@depth"
	default:
		warn(fmt.Sprintf("unrecognized depth interval %q; falling back to default", interval))
		return lower + "@depth"
	}
}
