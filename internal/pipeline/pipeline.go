package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"kanimedia/internal/assets"
	"kanimedia/internal/cache"
	"kanimedia/internal/codec"
	"kanimedia/internal/gate"
	"kanimedia/internal/transform"
)

// Result is one rendition ready to serve.
type Result struct {
	Data        []byte
	ContentType string
	ETag        string
}

// Pipeline turns an (asset id, transform spec) pair into an encoded
// rendition: originals come from the store, transcoding runs behind
// the gate, finished entries land in the byte-budgeted cache. All
// request deduplication lives in the cache's single-flight.
type Pipeline struct {
	store  assets.Store
	cache  *cache.Cache
	codec  codec.Codec
	gate   *gate.Gate
	logger *zap.Logger
}

func New(store assets.Store, c *cache.Cache, cdc codec.Codec, g *gate.Gate, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		cache:  c,
		codec:  cdc,
		gate:   g,
		logger: logger,
	}
}

// Render returns the rendition for assetID under spec, serving from
// cache when possible. Concurrent identical requests share a single
// transcode; distinct ones are bounded by the gate.
func (p *Pipeline) Render(ctx context.Context, assetID string, spec transform.Spec) (*Result, error) {
	key := transform.Key(assetID, spec)

	entry, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*cache.Entry, error) {
		return p.transcode(ctx, assetID, spec)
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Data:        entry.Data,
		ContentType: entry.ContentType,
		ETag:        etagFor(key),
	}, nil
}

func (p *Pipeline) transcode(ctx context.Context, assetID string, spec transform.Spec) (*cache.Entry, error) {
	original, err := p.store.Fetch(ctx, assetID)
	if err != nil {
		return nil, err
	}

	srcFormat, err := codec.Sniff(original)
	if err != nil {
		return nil, err
	}

	// Nothing to transcode, the original is already the answer.
	if spec.PassesThrough(srcFormat) {
		return &cache.Entry{Data: original, ContentType: srcFormat.ContentType()}, nil
	}

	release, err := p.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	pix, err := p.codec.Decode(original)
	if err != nil {
		return nil, err
	}
	defer pix.Close()

	data, err := p.codec.Encode(pix, spec)
	if err != nil {
		return nil, err
	}

	return &cache.Entry{
		Data:        data,
		ContentType: spec.OutputFormat(srcFormat).ContentType(),
	}, nil
}

// Preset is one rendition shape warmed at startup.
type Preset struct {
	Width  int
	Height int
	Format transform.Format
}

// ParsePresets parses a comma-separated preset list like
// "310x468,620x936" into WebP warmup presets.
func ParsePresets(raw string) ([]Preset, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var presets []Preset

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)

		dims := strings.Split(strings.ToLower(part), "x")
		if len(dims) != 2 {
			return nil, fmt.Errorf("invalid warmup preset %q, want WIDTHxHEIGHT", part)
		}

		w, err := strconv.Atoi(dims[0])
		if err != nil || w <= 0 {
			return nil, fmt.Errorf("invalid warmup preset width in %q", part)
		}

		h, err := strconv.Atoi(dims[1])
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid warmup preset height in %q", part)
		}

		presets = append(presets, Preset{Width: w, Height: h, Format: transform.FormatWebp})
	}

	return presets, nil
}

func (p Preset) spec() transform.Spec {
	return transform.Spec{
		Width:  p.Width,
		Height: p.Height,
		Fit:    transform.FitContain,
		Format: p.Format,
	}
}

// Warm renders every preset for every listed asset through the normal
// pipeline, so warmed entries are exactly what requests would produce.
// Worker slots bound the concurrency on top of the gate.
func (p *Pipeline) Warm(ids []string, presets []Preset, workers int) {
	if len(ids) == 0 || len(presets) == 0 {
		return
	}

	if workers <= 0 {
		workers = 1
	}

	p.logger.Info("Starting cache warmup",
		zap.Int("assets", len(ids)),
		zap.Int("presets", len(presets)),
		zap.Int("workers", workers))

	workerChan := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, id := range ids {
		for _, preset := range presets {
			wg.Add(1)
			workerChan <- struct{}{} // Acquire worker slot

			go func(id string, preset Preset) {
				defer wg.Done()
				defer func() { <-workerChan }() // Release worker slot

				spec := preset.spec()
				if _, err := p.Render(context.Background(), id, spec); err != nil {
					p.logger.Debug("Warmup rendition failed",
						zap.String("asset_id", id),
						zap.String("spec", spec.String()),
						zap.Error(err))
				}
			}(id, preset)
		}
	}

	wg.Wait()
	p.logger.Info("Cache warmup completed", zap.Int64("cache_bytes", p.cache.UsedBytes()))
}

func etagFor(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])[:16]
}
