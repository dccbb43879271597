package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// redisStore persists each series as a sorted set scored by timestamp, with
// JSON members under short field names for compactness; readers restore
// canonical field names via coreWire/advancedWire.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(addr string) (*redisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{client: client}, nil
}

// coreWire mirrors model.MetricsCore with short field names for the wire
// representation.
type coreWire struct {
	Ts   int64   `json:"t"`
	Sp   float64 `json:"sp"`
	Td   float64 `json:"td"`
	Bd   float64 `json:"bd"`
	Ad   float64 `json:"ad"`
	S100 [2]float64 `json:"s1"`
	S300 [2]float64 `json:"s3"`
	S500 [2]float64 `json:"s5"`
	S1m  [2]float64 `json:"sm"`
	S5m  [2]float64 `json:"sf"`
	Ls   float64 `json:"ls"`
	Im   float64 `json:"im"`
	Mp   float64 `json:"mp"`
	Bb   float64 `json:"bb"`
	Ba   float64 `json:"ba"`
}

func toCoreWire(r model.MetricsCore) coreWire {
	return coreWire{
		Ts: r.TimestampMs, Sp: r.SpreadPercent, Td: r.TotalDepth, Bd: r.BidDepth, Ad: r.AskDepth,
		S100: [2]float64{r.Slippage100k.Buy, r.Slippage100k.Sell},
		S300: [2]float64{r.Slippage300k.Buy, r.Slippage300k.Sell},
		S500: [2]float64{r.Slippage500k.Buy, r.Slippage500k.Sell},
		S1m:  [2]float64{r.Slippage1m.Buy, r.Slippage1m.Sell},
		S5m:  [2]float64{r.Slippage5m.Buy, r.Slippage5m.Sell},
		Ls:   r.LiquidityScore, Im: r.Imbalance, Mp: r.MidPrice, Bb: r.BestBid, Ba: r.BestAsk,
	}
}

func (w coreWire) toModel() model.MetricsCore {
	return model.MetricsCore{
		TimestampMs: w.Ts, SpreadPercent: w.Sp, TotalDepth: w.Td, BidDepth: w.Bd, AskDepth: w.Ad,
		Slippage100k: model.SlippagePair{Buy: w.S100[0], Sell: w.S100[1]},
		Slippage300k: model.SlippagePair{Buy: w.S300[0], Sell: w.S300[1]},
		Slippage500k: model.SlippagePair{Buy: w.S500[0], Sell: w.S500[1]},
		Slippage1m:   model.SlippagePair{Buy: w.S1m[0], Sell: w.S1m[1]},
		Slippage5m:   model.SlippagePair{Buy: w.S5m[0], Sell: w.S5m[1]},
		LiquidityScore: w.Ls, Imbalance: w.Im, MidPrice: w.Mp, BestBid: w.Bb, BestAsk: w.Ba,
	}
}

type advancedWire struct {
	Ts  int64              `json:"t"`
	Bd  float64            `json:"bd"`
	Ad  float64            `json:"ad"`
	Ic  float64            `json:"ic"`
	Ddb map[string]float64 `json:"ddb"`
	Dda map[string]float64 `json:"dda"`
	Bb  float64            `json:"bb"`
	Ba  float64            `json:"ba"`
	Lbl string             `json:"lbl"`
}

func toAdvancedWire(r model.MetricsAdvanced) advancedWire {
	return advancedWire{
		Ts: r.TimestampMs, Bd: r.BidDepth, Ad: r.AskDepth, Ic: r.ImpactCostAvg,
		Ddb: r.DepthDeviationBid, Dda: r.DepthDeviationAsk,
		Bb: r.BestBid, Ba: r.BestAsk, Lbl: r.DeviationLabel,
	}
}

func (w advancedWire) toModel() model.MetricsAdvanced {
	return model.MetricsAdvanced{
		TimestampMs: w.Ts, BidDepth: w.Bd, AskDepth: w.Ad, ImpactCostAvg: w.Ic,
		DepthDeviationBid: w.Ddb, DepthDeviationAsk: w.Dda,
		BestBid: w.Bb, BestAsk: w.Ba, DeviationLabel: w.Lbl,
	}
}

func (s *redisStore) AppendCore(ctx context.Context, key Key, rec model.MetricsCore) error {
	b, err := json.Marshal(toCoreWire(rec))
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key.coreRedisKey(), redis.Z{Score: float64(rec.TimestampMs), Member: b})
	pipe.ZRemRangeByScore(ctx, key.coreRedisKey(), "-inf", fmt.Sprintf("%d", time.Now().Add(-Retention).UnixMilli()))
	pipe.Expire(ctx, key.coreRedisKey(), SeriesTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) AppendAdvanced(ctx context.Context, key Key, rec model.MetricsAdvanced) error {
	b, err := json.Marshal(toAdvancedWire(rec))
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key.advRedisKey(), redis.Z{Score: float64(rec.TimestampMs), Member: b})
	pipe.ZRemRangeByScore(ctx, key.advRedisKey(), "-inf", fmt.Sprintf("%d", time.Now().Add(-Retention).UnixMilli()))
	pipe.Expire(ctx, key.advRedisKey(), SeriesTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func scoreRange(startMs, endMs int64) (string, string) {
	min, max := "-inf", "+inf"
	if startMs != 0 {
		min = fmt.Sprintf("%d", startMs)
	}
	if endMs != 0 {
		max = fmt.Sprintf("%d", endMs)
	}
	return min, max
}

func (s *redisStore) RangeCore(ctx context.Context, key Key, startMs, endMs int64, limit int) ([]model.MetricsCore, error) {
	min, max := scoreRange(startMs, endMs)
	opt := &redis.ZRangeBy{Min: min, Max: max}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	vals, err := s.client.ZRangeByScore(ctx, key.coreRedisKey(), opt).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.MetricsCore, 0, len(vals))
	for _, v := range vals {
		var w coreWire
		if err := json.Unmarshal([]byte(v), &w); err != nil {
			continue
		}
		out = append(out, w.toModel())
	}
	return out, nil
}

func (s *redisStore) RangeAdvanced(ctx context.Context, key Key, startMs, endMs int64, limit int) ([]model.MetricsAdvanced, error) {
	min, max := scoreRange(startMs, endMs)
	opt := &redis.ZRangeBy{Min: min, Max: max}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	vals, err := s.client.ZRangeByScore(ctx, key.advRedisKey(), opt).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.MetricsAdvanced, 0, len(vals))
	for _, v := range vals {
		var w advancedWire
		if err := json.Unmarshal([]byte(v), &w); err != nil {
			continue
		}
		out = append(out, w.toModel())
	}
	return out, nil
}

func (s *redisStore) Recent(ctx context.Context, key Key, count int, includeAdvanced bool) (Recent, error) {
	coreVals, err := s.client.ZRevRangeByScore(ctx, key.coreRedisKey(), &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: int64(count)}).Result()
	if err != nil {
		return Recent{}, err
	}
	out := Recent{Core: make([]model.MetricsCore, 0, len(coreVals))}
	for i := len(coreVals) - 1; i >= 0; i-- {
		var w coreWire
		if err := json.Unmarshal([]byte(coreVals[i]), &w); err == nil {
			out.Core = append(out.Core, w.toModel())
		}
	}
	if includeAdvanced {
		advVals, err := s.client.ZRevRangeByScore(ctx, key.advRedisKey(), &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: int64(count)}).Result()
		if err != nil {
			return out, err
		}
		for i := len(advVals) - 1; i >= 0; i-- {
			var w advancedWire
			if err := json.Unmarshal([]byte(advVals[i]), &w); err == nil {
				out.Advanced = append(out.Advanced, w.toModel())
			}
		}
	}
	return out, nil
}

func (s *redisStore) Stats(ctx context.Context, key Key) (Stats, error) {
	coreCount, err := s.client.ZCard(ctx, key.coreRedisKey()).Result()
	if err != nil {
		return Stats{}, err
	}
	advCount, err := s.client.ZCard(ctx, key.advRedisKey()).Result()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{CoreCount: int(coreCount), AdvancedCount: int(advCount)}
	if coreCount > 0 {
		if oldest, err := s.client.ZRangeWithScores(ctx, key.coreRedisKey(), 0, 0).Result(); err == nil && len(oldest) > 0 {
			st.TimeRange.Start = timeFromMs(int64(oldest[0].Score))
		}
		if newest, err := s.client.ZRevRangeWithScores(ctx, key.coreRedisKey(), 0, 0).Result(); err == nil && len(newest) > 0 {
			st.TimeRange.End = timeFromMs(int64(newest[0].Score))
		}
	}
	return st, nil
}

func (s *redisStore) Close() error { return s.client.Close() }
