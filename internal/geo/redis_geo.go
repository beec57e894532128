package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndex stores request start points with GEOADD and the listing
// details in a hash that expires after ttl. A geo member whose hash is gone
// is treated as closed and removed when a query runs into it.
type RedisIndex struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisIndex(client *redis.Client, key string, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, key: key, ttl: ttl}
}

func (r *RedisIndex) Upsert(ctx context.Context, req OpenRequest) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: req.Start.Lon, Latitude: req.Start.Lat, Name: req.ID})
		p.HSet(ctx, metaKey(req.ID), map[string]interface{}{
			"rider":   req.Rider,
			"start":   req.StartName,
			"payment": req.PaymentAmount,
			"listed":  time.Now().UTC().Format(time.RFC3339),
		})
		if r.ttl > 0 {
			p.Expire(ctx, metaKey(req.ID), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index request %s: %w", req.ID, err)
	}
	return nil
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]OpenRequest, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("nearby requests: %w", err)
	}
	out := make([]OpenRequest, 0, len(res))
	var stale []interface{}
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			return nil, fmt.Errorf("request meta %s: %w", g.Name, err)
		}
		if len(m) == 0 {
			stale = append(stale, g.Name)
			continue
		}
		out = append(out, fromMeta(g, m))
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, r.key, stale...).Err(); err != nil {
			return out, fmt.Errorf("drop closed requests: %w", err)
		}
	}
	return out, nil
}

func fromMeta(g redis.GeoLocation, m map[string]string) OpenRequest {
	req := OpenRequest{
		ID:            g.Name,
		Rider:         m["rider"],
		StartName:     m["start"],
		PaymentAmount: m["payment"],
		DistanceM:     g.Dist,
	}
	req.Start.Lat = g.Latitude
	req.Start.Lon = g.Longitude
	if t, err := time.Parse(time.RFC3339, m["listed"]); err == nil {
		req.Listed = t
	}
	return req
}

func metaKey(id string) string { return "request:meta:" + id }
