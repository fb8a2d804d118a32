/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewGormStore(db, nil), mock
}

func TestGormStoreCurrentWorkload(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(duration_minutes\), 0\) FROM "bookings" WHERE technician_id = \$1 AND status IN \(\$2,\$3\)`).
		WithArgs("tech-x", "scheduled", "in_progress", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(420))

	minutes, err := store.GetCurrentWorkload(context.Background(), "tech-x", monday(0, 0), onDay(7, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 420, minutes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreActiveBookingsSkipsCancelled(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE technician_id = \$1 AND status <> \$2 AND starts_at < \$3 AND ends_at > \$4 ORDER BY starts_at ASC`).
		WithArgs("tech-x", "cancelled", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "work_order_id", "technician_id", "starts_at", "ends_at", "duration_minutes", "status"}).
			AddRow("b1", "wo-1", "tech-x", monday(10, 0), monday(11, 0), 60, "scheduled"))

	rows, err := store.GetActiveBookings(context.Background(), "tech-x", monday(0, 0), onDay(1, 0, 0))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b1", rows[0].ID)
	assert.True(t, rows[0].StartsAt.Equal(monday(10, 0)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "technicians" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "work_orders" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetTechnician(context.Background(), "tech-missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "technician", notFound.Resource)

	_, err = store.GetWorkOrder(context.Background(), "wo-missing")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "wo-missing", notFound.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreMissingOverrideIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "technician_availability" WHERE technician_id = \$1 AND date >= \$2 AND date < \$3`).
		WithArgs("tech-x", monday(0, 0), onDay(1, 0, 0), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	override, err := store.GetTechnicianAvailability(context.Background(), "tech-x", monday(15, 30))
	require.NoError(t, err)
	assert.Nil(t, override)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStorePropagatesQueryErrors(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`SELECT \* FROM "business_hours" WHERE organization_id = \$1 ORDER BY day_of_week ASC`).
		WithArgs("org-1").
		WillReturnError(boom)

	_, err := store.GetBusinessHours(context.Background(), "org-1")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
