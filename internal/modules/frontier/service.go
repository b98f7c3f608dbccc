package frontier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when a cached result does not exist or has expired.
var ErrNotFound = errors.New("result not found")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	CacheTTL   time.Duration // DefaultCacheTTL when zero
	Seed       uint64        // used when a request carries no seed; 0 derives one from the request
	SolverName string        // recorded in the cache key
}

// Service fronts the engine with seed resolution, result caching and
// coalescing of identical concurrent runs.
type Service struct {
	engine *Engine
	repo   *Repository
	cfg    ServiceConfig
	group  singleflight.Group
	log    zerolog.Logger
}

// NewService creates a new frontier service. repo may be nil, in which case
// nothing is cached.
func NewService(engine *Engine, repo *Repository, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		engine: engine,
		repo:   repo,
		cfg:    cfg,
		log:    log.With().Str("service", "frontier").Logger(),
	}
}

// cacheKey is the canonical form of everything that determines a result.
type cacheKey struct {
	Input      Input  `msgpack:"input"`
	Points     int    `msgpack:"points"`
	SortByRisk bool   `msgpack:"sort_by_risk"`
	Solver     string `msgpack:"solver"`
}

func (s *Service) canonical(in Input) ([]byte, error) {
	opts := s.engine.Options()
	data, err := msgpack.Marshal(cacheKey{
		Input:      in,
		Points:     opts.Points,
		SortByRisk: opts.SortByRisk,
		Solver:     s.cfg.SolverName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// Prepare resolves the seed of in and computes its cache key.
// Seed precedence: the request's own seed, then the configured seed, then a
// hash of the request itself so identical requests share a seed.
func (s *Service) Prepare(in Input) (Input, string, error) {
	if in.Seed == 0 {
		in.Seed = s.cfg.Seed
	}
	if in.Seed == 0 {
		data, err := s.canonical(in)
		if err != nil {
			return in, "", err
		}
		h := fnv.New64a()
		_, _ = h.Write(data)
		in.Seed = h.Sum64()
	}

	data, err := s.canonical(in)
	if err != nil {
		return in, "", err
	}
	sum := sha256.Sum256(data)
	return in, hex.EncodeToString(sum[:]), nil
}

// Resample returns the resampled frontier for in, from cache when possible.
// Identical concurrent calls share one computation, which keeps running when
// the caller that started it goes away.
func (s *Service) Resample(ctx context.Context, in Input) (*Result, error) {
	if err := Validate(in, s.engine.Options().Points); err != nil {
		return nil, err
	}
	in, key, err := s.Prepare(in)
	if err != nil {
		return nil, err
	}

	if cached := s.cached(key); cached != nil {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared run outlives any single caller; each caller only stops
	// waiting when its own context ends. A finished run still lands in cache.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.run(context.WithoutCancel(ctx), in, key, nil)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.log.Debug().Str("key", key).Msg("Shared in-flight frontier run")
		}
		return res.Val.(*Result), nil
	}
}

// ResampleWithProgress is Resample with per-history progress. It never joins
// another caller's run, since progress belongs to this caller alone.
func (s *Service) ResampleWithProgress(ctx context.Context, in Input, progress ProgressFunc) (*Result, error) {
	if err := Validate(in, s.engine.Options().Points); err != nil {
		return nil, err
	}
	in, key, err := s.Prepare(in)
	if err != nil {
		return nil, err
	}

	if cached := s.cached(key); cached != nil {
		if progress != nil {
			progress(in.NumSimulations, in.NumSimulations)
		}
		return cached, nil
	}
	return s.run(ctx, in, key, progress)
}

// GlobalMinimumVariance solves the minimum variance portfolio on the base
// assumptions of in, without resampling.
func (s *Service) GlobalMinimumVariance(in Input) (Solution, bool, error) {
	return s.engine.BaseGlobalMinimumVariance(in)
}

// Get returns a fresh cached result by key.
func (s *Service) Get(key string) (*Result, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	result, err := s.repo.GetIfFresh(key)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNotFound
	}
	result.Cached = true
	return result, nil
}

func (s *Service) cached(key string) *Result {
	if s.repo == nil {
		return nil
	}
	result, err := s.repo.GetIfFresh(key)
	if err != nil {
		// A broken cache never blocks a computation.
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to read cached frontier")
		return nil
	}
	if result != nil {
		s.log.Debug().Str("key", key).Msg("Serving cached frontier")
		result.Cached = true
	}
	return result
}

func (s *Service) run(ctx context.Context, in Input, key string, progress ProgressFunc) (*Result, error) {
	result, err := s.engine.ResampleWithProgress(ctx, in, progress)
	if err != nil {
		return nil, err
	}

	result.RunID = uuid.New().String()
	result.Key = key
	result.ComputedAt = time.Now().UTC()

	if s.repo != nil {
		if err := s.repo.Store(key, result, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache frontier")
		}
	}
	return result, nil
}
