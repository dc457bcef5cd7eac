package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (r *repo) ExistingIDs(ctx context.Context, db *gorm.DB, lots []string) (map[string]int64, error) {
	out := make(map[string]int64, len(lots))
	if len(lots) == 0 {
		return out, nil
	}
	var refs []domain.LotRef
	err := db.WithContext(ctx).Raw(
		`SELECT lot_number, MIN(id) AS id
		 FROM api_cars WHERE lot_number IN ? GROUP BY lot_number`,
		lots,
	).Scan(&refs).Error
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		out[ref.LotNumber] = ref.ID
	}
	return out, nil
}

func (r *repo) InsertCars(ctx context.Context, db *gorm.DB, cars []*domain.Car, batchSize int) (int64, error) {
	if len(cars) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = len(cars)
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(cars, batchSize)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateCars(ctx context.Context, db *gorm.DB, cars []*domain.Car) (int64, error) {
	var affected int64
	for _, car := range cars {
		if car == nil || car.ID == 0 {
			return affected, gorm.ErrInvalidData
		}
		res := db.WithContext(ctx).
			Model(&domain.Car{}).
			Where("id = ?", car.ID).
			Select(domain.OverwriteColumns).
			UpdateColumns(car)
		if res.Error != nil {
			return affected, res.Error
		}
		affected += res.RowsAffected
	}
	return affected, nil
}

func (r *repo) CountByLots(ctx context.Context, db *gorm.DB, lots []string) (int64, error) {
	if len(lots) == 0 {
		return 0, nil
	}
	var count int64
	err := db.WithContext(ctx).Model(&domain.Car{}).Where("lot_number IN ?", lots).Count(&count).Error
	return count, err
}

func (r *repo) DeleteByLots(ctx context.Context, db *gorm.DB, lots []string) (int64, error) {
	if len(lots) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("lot_number IN ?", lots).Delete(&domain.Car{})
	return res.RowsAffected, res.Error
}

func (r *repo) ScanLotRefs(ctx context.Context, db *gorm.DB, batchSize int, fn func([]domain.LotRef) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var lastID int64
	for {
		var refs []domain.LotRef
		err := db.WithContext(ctx).Raw(
			`SELECT id, lot_number FROM api_cars WHERE id > ? ORDER BY id ASC LIMIT ?`,
			lastID,
			batchSize,
		).Scan(&refs).Error
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		if err := fn(refs); err != nil {
			return err
		}
		lastID = refs[len(refs)-1].ID
		if len(refs) < batchSize {
			return nil
		}
	}
}

func (r *repo) DeleteByIDs(ctx context.Context, db *gorm.DB, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Car{})
	return res.RowsAffected, res.Error
}

func (r *repo) DuplicateIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Raw(
		`SELECT c.id FROM api_cars c
		 JOIN (SELECT lot_number, MIN(id) AS keep_id FROM api_cars GROUP BY lot_number HAVING COUNT(*) > 1) d
		   ON d.lot_number = c.lot_number
		 WHERE c.id <> d.keep_id
		 ORDER BY c.id ASC`,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) ExpiredAuctionIDs(ctx context.Context, db *gorm.DB, cutoff time.Time, protected []domain.ProtectedRef) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Raw(
		`SELECT c.id FROM api_cars c
		 JOIN categories cat ON cat.id = c.category_id
		 WHERE cat.name = ? AND c.status = ? AND c.auction_date IS NOT NULL AND c.auction_date < ?
		 ORDER BY c.id ASC`,
		domain.CategoryAuction,
		domain.CarStatusAvailable,
		cutoff,
	).Scan(&ids).Error
	if err != nil || len(ids) == 0 {
		return ids, err
	}

	keep := map[int64]struct{}{}
	for _, ref := range protected {
		if !identifierPattern.MatchString(ref.Table) || !identifierPattern.MatchString(ref.Column) {
			return nil, fmt.Errorf("invalid protected reference %s.%s", ref.Table, ref.Column)
		}
		var refIDs []int64
		err := db.WithContext(ctx).
			Table(ref.Table).
			Where(ref.Column+" IN ?", ids).
			Distinct().
			Pluck(ref.Column, &refIDs).Error
		if err != nil {
			return nil, fmt.Errorf("load protected %s.%s: %w", ref.Table, ref.Column, err)
		}
		for _, id := range refIDs {
			keep[id] = struct{}{}
		}
	}

	out := ids[:0]
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *repo) FindDimension(ctx context.Context, db *gorm.DB, kind domain.DimensionKind, name string, parentID int64) (int64, error) {
	spec, err := domain.SpecFor(kind)
	if err != nil {
		return 0, err
	}
	stmt := db.WithContext(ctx).Table(spec.Table).Where("name = ?", name)
	if spec.ParentColumn != "" {
		stmt = stmt.Where(spec.ParentColumn+" = ?", parentID)
	}
	var ids []int64
	if err := stmt.Order("id ASC").Limit(1).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

func (r *repo) InsertDimension(ctx context.Context, db *gorm.DB, kind domain.DimensionKind, name string, parentID int64) error {
	spec, err := domain.SpecFor(kind)
	if err != nil {
		return err
	}
	values := map[string]any{"name": name}
	for k, v := range spec.Defaults {
		values[k] = v
	}
	if spec.ParentColumn != "" {
		values[spec.ParentColumn] = parentID
	}
	return db.WithContext(ctx).Table(spec.Table).Create(values).Error
}

func (r *repo) ListPriceSamples(ctx context.Context, db *gorm.DB, filter domain.SampleFilter) ([]domain.PriceSample, error) {
	stmt := db.WithContext(ctx).
		Table("api_cars AS c").
		Select(`c.id AS car_id, c.lot_number, COALESCE(c.vin, '') AS vin,
			m.name AS manufacturer, cm.name AS model, COALESCE(b.name, '') AS badge,
			COALESCE(c.fuel, '') AS fuel, COALESCE(bt.name, '') AS body,
			c.year, c.price, c.mileage`).
		Joins("JOIN manufacturers m ON m.id = c.manufacturer_id").
		Joins("JOIN car_models cm ON cm.id = c.model_id").
		Joins("LEFT JOIN car_badges b ON b.id = c.badge_id").
		Joins("LEFT JOIN body_types bt ON bt.id = c.body_id").
		Joins("LEFT JOIN categories cat ON cat.id = c.category_id").
		Where("c.price > 0")

	if name := strings.TrimSpace(filter.Manufacturer); name != "" {
		stmt = stmt.Where("LOWER(m.name) = LOWER(?)", name)
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		stmt = stmt.Where("cat.name = ?", category)
	}
	if filter.MinYear > 0 {
		stmt = stmt.Where("c.year >= ?", filter.MinYear)
	}

	var out []domain.PriceSample
	if err := stmt.Order("c.id ASC").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) SaveAnomalies(ctx context.Context, db *gorm.DB, methods []string, overwrite bool, rows []domain.PriceAnomaly) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if overwrite && len(methods) > 0 {
			if err := tx.Where("method IN ?", methods).Delete(&domain.PriceAnomaly{}).Error; err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
}

func (r *repo) ListAnomalies(ctx context.Context, db *gorm.DB, filter domain.AnomalyFilter) ([]domain.PriceAnomaly, error) {
	stmt := db.WithContext(ctx).Model(&domain.PriceAnomaly{})
	if method := strings.TrimSpace(filter.Method); method != "" {
		stmt = stmt.Where("method = ?", method)
	}
	if filter.MinSeverity > 0 {
		stmt = stmt.Where("severity >= ?", filter.MinSeverity)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	var items []domain.PriceAnomaly
	if err := stmt.Order("severity DESC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CreateRun(ctx context.Context, db *gorm.DB, run *domain.ImportRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FinishRun(ctx context.Context, db *gorm.DB, run *domain.ImportRun) error {
	if run == nil || run.ID == 0 {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).
		Model(&domain.ImportRun{}).
		Where("id = ?", run.ID).
		Select("status", "created", "updated", "deleted", "skipped", "failed", "rows_read", "feed_digest", "error", "finished_at").
		Updates(run).Error
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, limit int) ([]domain.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var items []domain.ImportRun
	err := db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&items).Error
	return items, err
}
