package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	redis "github.com/redis/go-redis/v9"

	"stockledger/internal/domain/reports"
)

const (
	codecPlain byte = 'j'
	codecZstd  byte = 'z'
)

var _ reports.Cache = (*ReportCache)(nil)

// ReportCache stores finished reports in Redis. Payloads above the
// compression threshold are zstd-compressed.
type ReportCache struct {
	client    redis.Cmdable
	prefix    string
	ttl       time.Duration
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewReportCache creates a cache; entries expire after ttl.
func NewReportCache(client redis.Cmdable, prefix string, ttl time.Duration) (*ReportCache, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ReportCache{
		client:    client,
		prefix:    prefix,
		ttl:       ttl,
		threshold: 4 * 1024,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Get implements reports.Cache.
func (c *ReportCache) Get(ctx context.Context, key string) (*reports.Report, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached report: %w", err)
	}

	report, err := c.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

// Set implements reports.Cache.
func (c *ReportCache) Set(ctx context.Context, key string, report *reports.Report) error {
	raw, err := c.encode(report)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached report: %w", err)
	}
	return nil
}

func (c *ReportCache) encode(report *reports.Report) ([]byte, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if len(data) <= c.threshold {
		return append([]byte{codecPlain}, data...), nil
	}
	return c.encoder.EncodeAll(data, []byte{codecZstd}), nil
}

func (c *ReportCache) decode(raw []byte) (*reports.Report, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty cached report")
	}

	data := raw[1:]
	switch raw[0] {
	case codecPlain:
	case codecZstd:
		var err error
		if data, err = c.decoder.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress report: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown report codec %q", raw[0])
	}

	var report reports.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}
