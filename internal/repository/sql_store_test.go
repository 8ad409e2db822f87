package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking/internal/model"
)

var (
	start   = time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	created = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func slotRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "offering_id", "starts_at", "ends_at", "capacity", "booked_count", "is_available", "created_at", "updated_at"}).
		AddRow("slot-1", "off-1", start, start.Add(time.Hour), int64(8), int64(1), true, created, created)
}

var bookingCols = []string{
	"id", "user_id", "offering_id", "time_slot_id", "status", "participants",
	"total_price_cents", "special_requests", "source", "metadata", "expires_at",
	"confirmed_at", "cancelled_at", "created_at", "updated_at",
}

func bookingRow(id, status string, metadata any, confirmed any) []driver.Value {
	return []driver.Value{
		id, "whatsapp:+15550001", "off-1", "slot-1", status, int64(2),
		int64(9000), nil, "whatsapp", metadata, created.Add(30 * time.Minute),
		confirmed, nil, created, created,
	}
}

func detailRows(rows ...[]driver.Value) *sqlmock.Rows {
	cols := append(append([]string{}, bookingCols...), "name", "location", "starts_at", "ends_at")
	r := sqlmock.NewRows(cols)
	for _, row := range rows {
		r.AddRow(append(row, "Kayak Tour", "Marina Dock", start, start.Add(time.Hour))...)
	}
	return r
}

func TestWithTxLocksSlotAndCommits(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM time_slots s WHERE s.id = ? FOR UPDATE")).
		WithArgs("slot-1").
		WillReturnRows(slotRows())
	mock.ExpectExec(q("UPDATE time_slots SET booked_count = ?, updated_at = ? WHERE id = ?")).
		WithArgs(3, sqlmock.AnyArg(), "slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx Tx) error {
		slot, err := tx.LockTimeSlot(context.Background(), "slot-1")
		if err != nil {
			return err
		}
		if err := slot.Increment(2); err != nil {
			return err
		}
		return tx.SaveBookedCount(context.Background(), slot)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackWhenCallbackFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM bookings b WHERE b.id = ? FOR UPDATE")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(bookingCols))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.LockBooking(context.Background(), "missing")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackWhenUpdateHitsNoRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM bookings b WHERE b.id = ? FOR UPDATE")).
		WithArgs("b-1").
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(bookingRow("b-1", "pending", []byte(`{}`), nil)...))
	mock.ExpectExec(q("UPDATE bookings")).
		WithArgs("confirmed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "b-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx Tx) error {
		b, err := tx.LockBooking(context.Background(), "b-1")
		if err != nil {
			return err
		}
		assert.Equal(t, model.StatusPending, b.Status)
		assert.Nil(t, b.ConfirmedAt)
		assert.Equal(t, model.Metadata{}, b.Metadata)
		now := created.Add(time.Minute)
		b.Status = model.StatusConfirmed
		b.ConfirmedAt = &now
		return tx.UpdateBooking(context.Background(), b)
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxReportsCommitFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("deadlock found"))

	err := store.WithTx(context.Background(), func(Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateMapsToConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(q("INSERT INTO time_slots")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'off-1-2025-06-03 09:00:00' for key 'uq_slot'"})
	mock.ExpectExec(q("INSERT INTO time_slots")).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})

	slot := &model.TimeSlot{ID: "slot-2", OfferingID: "off-1", StartsAt: start, EndsAt: start.Add(time.Hour), Capacity: 8, IsAvailable: true}
	err := store.InsertTimeSlot(context.Background(), slot)
	assert.ErrorIs(t, err, ErrConflict)

	err = store.InsertTimeSlot(context.Background(), slot)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpiredPendingKeepsDeadlineOrder(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("SELECT id FROM bookings WHERE status = 'pending' AND expires_at <= ? ORDER BY expires_at LIMIT ?")).
		WithArgs(now, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b-old").AddRow("b-newer"))

	ids, err := store.ExpiredPending(context.Background(), now, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-old", "b-newer"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueRemindersFiltersOnMetadataFlag(t *testing.T) {
	store, mock := newMockStore(t)
	from, to := start.Add(-25*time.Hour), start.Add(-23*time.Hour)
	confirmed := created.Add(5 * time.Minute)
	mock.ExpectQuery(q("COALESCE(JSON_UNQUOTE(JSON_EXTRACT(b.metadata, ?)), '') <> 'true'")).
		WithArgs(from, to, "$."+model.MetaReminded24h, 100).
		WillReturnRows(detailRows(
			bookingRow("b-1", "confirmed", []byte(`{"reminded_1h":"true","reminded_1h_at":"2025-06-03T08:00:00Z"}`), confirmed),
			bookingRow("b-2", "confirmed", nil, confirmed),
		))

	due, err := store.DueReminders(context.Background(), from, to, model.MetaReminded24h, 100)
	require.NoError(t, err)
	require.Len(t, due, 2)

	assert.Equal(t, "b-1", due[0].ID)
	assert.Equal(t, "Kayak Tour", due[0].OfferingName)
	assert.True(t, due[0].StartsAt.Equal(start))
	require.NotNil(t, due[0].ConfirmedAt)
	assert.True(t, due[0].ConfirmedAt.Equal(confirmed))
	assert.True(t, due[0].Metadata.Flag(model.MetaReminded1h))
	assert.Equal(t, "2025-06-03T08:00:00Z", due[0].Metadata[model.MetaReminded1hAt])
	assert.False(t, due[0].Metadata.Flag(model.MetaReminded24h))

	assert.NotNil(t, due[1].Metadata)
	assert.Empty(t, due[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingsByUserStatusFilter(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(q("WHERE b.user_id = ? AND b.status = ? ORDER BY b.created_at DESC, b.id")).
		WithArgs("whatsapp:+15550001", "pending").
		WillReturnRows(detailRows(bookingRow("b-1", "pending", []byte(`{}`), nil)))
	mock.ExpectQuery(q("WHERE b.user_id = ? ORDER BY b.created_at DESC, b.id")).
		WithArgs("whatsapp:+15550001").
		WillReturnRows(detailRows())

	list, err := store.BookingsByUser(context.Background(), "whatsapp:+15550001", model.StatusPending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusPending, list[0].Status)
	assert.Equal(t, "", list[0].SpecialRequests)

	list, err = store.BookingsByUser(context.Background(), "whatsapp:+15550001", "")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingDetailNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(q("WHERE b.id = ?")).WithArgs("nope").WillReturnRows(detailRows())

	_, err := store.BookingDetail(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
