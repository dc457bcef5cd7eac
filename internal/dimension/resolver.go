// Package dimension resolves lookup names to ids for one ingestion run.
package dimension

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/smallbiznis/carlot/internal/cache"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	pkgdb "github.com/smallbiznis/carlot/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Options struct {
	// ReadOnly never inserts. Unknown names resolve to 0.
	ReadOnly bool
}

type Stats struct {
	Hits    int64
	Misses  int64
	Created int64
}

// Resolver maps (kind, name, parent) to a row id. The oldest matching row
// always wins, so duplicates left by concurrent runs resolve to one id.
type Resolver struct {
	db    *gorm.DB
	repo  domain.Repository
	cache cache.DimensionCache
	opts  Options
	log   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

func NewResolver(db *gorm.DB, repo domain.Repository, log *zap.Logger, opts Options) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		db:    db,
		repo:  repo,
		cache: cache.NewDimensionCache(),
		opts:  opts,
		log:   log.Named("dimension"),
	}
}

// Seed pre-populates the cache.
func (r *Resolver) Seed(kind domain.DimensionKind, name string, parentID, id int64) {
	r.cache.Set(string(kind), name, parentID, id)
}

// Resolve returns the id of name under parentID, creating the row when it
// does not exist. A blank name resolves to 0.
func (r *Resolver) Resolve(ctx context.Context, kind domain.DimensionKind, name string, parentID int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.cache.Get(string(kind), name, parentID); ok {
		r.stats.Hits++
		return id, nil
	}
	r.stats.Misses++

	id, err := r.repo.FindDimension(ctx, r.db, kind, name, parentID)
	if err != nil {
		return 0, fmt.Errorf("find %s %q: %w", kind, name, err)
	}
	if id == 0 && !r.opts.ReadOnly {
		id, err = r.create(ctx, kind, name, parentID)
		if err != nil {
			return 0, err
		}
	}

	r.cache.Set(string(kind), name, parentID, id)
	return id, nil
}

func (r *Resolver) create(ctx context.Context, kind domain.DimensionKind, name string, parentID int64) (int64, error) {
	err := r.repo.InsertDimension(ctx, r.db, kind, name, parentID)
	switch {
	case err == nil:
		r.stats.Created++
	case pkgdb.IsDuplicateKeyErr(err):
		r.log.Debug("dimension created concurrently",
			zap.String("kind", string(kind)),
			zap.String("name", name),
		)
	default:
		return 0, fmt.Errorf("create %s %q: %w", kind, name, err)
	}

	// Re-select instead of trusting the insert: another run may have
	// created an older row in the meantime.
	id, err := r.repo.FindDimension(ctx, r.db, kind, name, parentID)
	if err != nil {
		return 0, fmt.Errorf("reselect %s %q: %w", kind, name, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("%s %q missing after create", kind, name)
	}
	return id, nil
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Refs are the lookup ids of one car.
type Refs struct {
	ManufacturerID int64
	ModelID        int64
	BadgeID        int64
	ColorID        int64
	SeatColorID    int64
	BodyID         int64
	CategoryID     int64
}

// Names are the lookup names of one car, as produced by a normalizer.
type Names struct {
	Manufacturer string
	Model        string
	Badge        string
	Color        string
	SeatColor    string
	Body         string
	Category     string
}

// ResolveAll walks the manufacturer > model > badge chain and the flat
// lookups. Required names fall back to Unknown.
func (r *Resolver) ResolveAll(ctx context.Context, n Names) (Refs, error) {
	var (
		refs Refs
		err  error
	)
	if refs.ManufacturerID, err = r.Resolve(ctx, domain.KindManufacturer, orUnknown(n.Manufacturer), 0); err != nil {
		return Refs{}, err
	}
	if refs.ModelID, err = r.Resolve(ctx, domain.KindModel, orUnknown(n.Model), refs.ManufacturerID); err != nil {
		return Refs{}, err
	}
	badge := n.Badge
	if strings.TrimSpace(badge) == "" {
		badge = n.Model
	}
	if refs.BadgeID, err = r.Resolve(ctx, domain.KindBadge, orUnknown(badge), refs.ModelID); err != nil {
		return Refs{}, err
	}
	if refs.ColorID, err = r.Resolve(ctx, domain.KindColor, orUnknown(n.Color), 0); err != nil {
		return Refs{}, err
	}
	if refs.SeatColorID, err = r.Resolve(ctx, domain.KindSeatColor, n.SeatColor, 0); err != nil {
		return Refs{}, err
	}
	if refs.BodyID, err = r.Resolve(ctx, domain.KindBody, n.Body, 0); err != nil {
		return Refs{}, err
	}
	if refs.CategoryID, err = r.Resolve(ctx, domain.KindCategory, n.Category, 0); err != nil {
		return Refs{}, err
	}
	return refs, nil
}

func orUnknown(name string) string {
	if strings.TrimSpace(name) == "" {
		return domain.UnknownName
	}
	return name
}
