package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/wookieewrath/OnMyWay/internal/models"
)

// OpenRequest is a pending ride request as drivers browse it.
type OpenRequest struct {
	ID            string       `json:"id"`
	Rider         string       `json:"rider"`
	Start         models.Coord `json:"start"`
	StartName     string       `json:"start_name,omitempty"`
	PaymentAmount string       `json:"payment_amount,omitempty"`
	DistanceM     float64      `json:"distance_m"`
	Listed        time.Time    `json:"listed"`
}

// FromRequest builds the index entry for a stored request document.
func FromRequest(docID string, r models.Request) OpenRequest {
	return OpenRequest{
		ID:            docID,
		Rider:         r.RiderUserName,
		Start:         r.Start,
		StartName:     r.StartLocationName,
		PaymentAmount: r.PaymentAmount,
	}
}

// Index is what the consumer writes and the nearby handler reads.
type Index interface {
	Upsert(ctx context.Context, r OpenRequest) error
	Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]OpenRequest, error)
}

// MemoryIndex keeps open requests in process. Entries older than ttl are
// skipped and pruned on the next Upsert.
type MemoryIndex struct {
	mu       sync.RWMutex
	requests map[string]OpenRequest
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryIndex(ttl time.Duration) *MemoryIndex {
	return &MemoryIndex{requests: make(map[string]OpenRequest), ttl: ttl, now: time.Now}
}

func (m *MemoryIndex) Upsert(_ context.Context, r OpenRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r.Listed = now
	m.requests[r.ID] = r
	for id, existing := range m.requests {
		if m.expired(existing, now) {
			delete(m.requests, id)
		}
	}
	return nil
}

// naive scan, fine for a single process
func (m *MemoryIndex) Nearby(_ context.Context, lat, lon, radiusM float64, limit int) ([]OpenRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	out := make([]OpenRequest, 0, len(m.requests))
	for _, r := range m.requests {
		if m.expired(r, now) {
			continue
		}
		r.DistanceM = Haversine(lat, lon, r.Start.Lat, r.Start.Lon)
		if r.DistanceM > radiusM {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIndex) expired(r OpenRequest, now time.Time) bool {
	return m.ttl > 0 && now.Sub(r.Listed) > m.ttl
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
