package transport

import (
	"math"
	"sync"
	"time"

	"arenaclash/server/internal/arena"
)

// DefaultBandwidthBytesPerSecond caps the sheddable broadcast traffic of one observer.
const DefaultBandwidthBytesPerSecond = 64 * 1024

// Sheddable reports whether a broadcast may be skipped for a saturated observer. Only
// streams that the next tick supersedes qualify; gameplay outcomes are always delivered.
func Sheddable(kind arena.Kind) bool {
	switch kind {
	case arena.KindTickDiff, arena.KindActorMoved, arena.KindProjectileSteered:
		return true
	default:
		return false
	}
}

// BandwidthUsage captures the throttling state of one observer.
type BandwidthUsage struct {
	AvailableBytes  float64 `json:"available_bytes"`
	BytesPerSecond  float64 `json:"bytes_per_second"`
	ObservedSeconds float64 `json:"observed_seconds"`
	Shed            int64   `json:"shed"`
}

type bandwidthBucket struct {
	tokens float64
	last   time.Time
	window time.Time
	sent   int64
	shed   int64
}

// BandwidthRegulator keeps a token bucket per observer.
type BandwidthRegulator struct {
	mu      sync.Mutex
	buckets map[string]*bandwidthBucket
	rate    float64
	now     func() time.Time
}

// NewBandwidthRegulator enforces bytesPerSecond per observer.
func NewBandwidthRegulator(bytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	if bytesPerSecond <= 0 {
		bytesPerSecond = DefaultBandwidthBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthRegulator{buckets: make(map[string]*bandwidthBucket), rate: bytesPerSecond, now: clock}
}

func (r *BandwidthRegulator) replenish(bucket *bandwidthBucket, now time.Time) {
	//1.- Ignore clock steps backwards.
	if !now.After(bucket.last) {
		return
	}
	bucket.tokens = math.Min(r.rate, bucket.tokens+now.Sub(bucket.last).Seconds()*r.rate)
	bucket.last = now
}

// Allow charges size bytes of a sheddable broadcast against peer's budget.
func (r *BandwidthRegulator) Allow(peer string, size int) bool {
	if r == nil || peer == "" || size <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	bucket := r.buckets[peer]
	if bucket == nil {
		//1.- New observers start with a full bucket so the welcome burst goes through.
		bucket = &bandwidthBucket{tokens: r.rate, last: now, window: now}
		r.buckets[peer] = bucket
	}
	r.replenish(bucket, now)
	if float64(size) > bucket.tokens {
		bucket.shed++
		return false
	}
	bucket.tokens -= float64(size)
	bucket.sent += int64(size)
	return true
}

// Forget drops the bucket of a disconnected observer.
func (r *BandwidthRegulator) Forget(peer string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.buckets, peer)
	r.mu.Unlock()
}

// Usage reports the throttling statistics per observer.
func (r *BandwidthRegulator) Usage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	usage := make(map[string]BandwidthUsage, len(r.buckets))
	for peer, bucket := range r.buckets {
		r.replenish(bucket, now)
		observed := math.Max(now.Sub(bucket.window).Seconds(), 0)
		sample := BandwidthUsage{AvailableBytes: math.Max(bucket.tokens, 0), ObservedSeconds: observed, Shed: bucket.shed}
		if observed > 0 {
			sample.BytesPerSecond = float64(bucket.sent) / observed
		}
		usage[peer] = sample
	}
	return usage
}
