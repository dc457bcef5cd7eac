package dimension

import (
	"context"
	"sync"
	"testing"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/inventorytest"
	"github.com/smallbiznis/carlot/internal/inventory/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestResolveCreatesOnceAndCaches(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := NewResolver(conn, repository.Provide(), zaptest.NewLogger(t), Options{})
	ctx := context.Background()

	id, err := r.Resolve(ctx, domain.KindManufacturer, "Toyota", 0)
	require.NoError(t, err)
	require.NotZero(t, id)

	again, err := r.Resolve(ctx, domain.KindManufacturer, " Toyota ", 0)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	assert.Equal(t, Stats{Hits: 1, Misses: 1, Created: 1}, r.Stats())
	assert.Equal(t, int64(1), countRows(t, conn, &domain.Manufacturer{}))

	upper, err := r.Resolve(ctx, domain.KindManufacturer, "TOYOTA", 0)
	require.NoError(t, err)
	assert.NotEqual(t, id, upper)
	assert.Equal(t, int64(2), countRows(t, conn, &domain.Manufacturer{}))

	var m domain.Manufacturer
	require.NoError(t, conn.First(&m, id).Error)
	require.NotNil(t, m.Country)
	assert.Equal(t, domain.UnknownName, *m.Country)
}

func TestResolveOldestDuplicateWins(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	first := domain.Manufacturer{Name: "Toyota"}
	second := domain.Manufacturer{Name: "Toyota"}
	require.NoError(t, conn.Create(&first).Error)
	require.NoError(t, conn.Create(&second).Error)

	repo := repository.Provide()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := NewResolver(conn, repo, nil, Options{})
			id, err := r.Resolve(ctx, domain.KindManufacturer, "Toyota", 0)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, first.ID, ids[0])
	assert.Equal(t, first.ID, ids[1])
	assert.Equal(t, int64(2), countRows(t, conn, &domain.Manufacturer{}))
}

func TestResolveScopesChildrenByParent(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := NewResolver(conn, repository.Provide(), nil, Options{})
	ctx := context.Background()

	hyundai, err := r.Resolve(ctx, domain.KindManufacturer, "Hyundai", 0)
	require.NoError(t, err)
	kia, err := r.Resolve(ctx, domain.KindManufacturer, "Kia", 0)
	require.NoError(t, err)

	a, err := r.Resolve(ctx, domain.KindModel, "Pride", hyundai)
	require.NoError(t, err)
	b, err := r.Resolve(ctx, domain.KindModel, "Pride", kia)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, int64(2), countRows(t, conn, &domain.CarModel{}))
}

func TestResolveReadOnlyNeverInserts(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	existing := domain.CarColor{Name: "White"}
	require.NoError(t, conn.Create(&existing).Error)

	r := NewResolver(conn, repository.Provide(), nil, Options{ReadOnly: true})
	ctx := context.Background()

	id, err := r.Resolve(ctx, domain.KindColor, "White", 0)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)

	id, err = r.Resolve(ctx, domain.KindColor, "Mauve", 0)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Equal(t, int64(1), countRows(t, conn, &domain.CarColor{}))
}

func TestResolveBlankAndSeed(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := NewResolver(conn, repository.Provide(), nil, Options{})
	ctx := context.Background()

	id, err := r.Resolve(ctx, domain.KindBody, "  ", 0)
	require.NoError(t, err)
	assert.Zero(t, id)

	r.Seed(domain.KindBody, "Sedan", 0, 42)
	id, err = r.Resolve(ctx, domain.KindBody, "sedan", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(0), countRows(t, conn, &domain.BodyType{}))
}

func TestResolveAllFallsBackToUnknown(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := NewResolver(conn, repository.Provide(), nil, Options{})

	refs, err := r.ResolveAll(context.Background(), Names{Manufacturer: "Kia", Model: "K5"})
	require.NoError(t, err)
	assert.NotZero(t, refs.ManufacturerID)
	assert.NotZero(t, refs.ModelID)
	assert.NotZero(t, refs.BadgeID)
	assert.NotZero(t, refs.ColorID)
	assert.Zero(t, refs.SeatColorID)
	assert.Zero(t, refs.BodyID)
	assert.Zero(t, refs.CategoryID)

	var badge domain.CarBadge
	require.NoError(t, conn.First(&badge, refs.BadgeID).Error)
	assert.Equal(t, "K5", badge.Name)
	assert.Equal(t, refs.ModelID, badge.ModelID)

	var color domain.CarColor
	require.NoError(t, conn.First(&color, refs.ColorID).Error)
	assert.Equal(t, domain.UnknownName, color.Name)
}
