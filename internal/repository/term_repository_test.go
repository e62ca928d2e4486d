package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-ekskul-api/internal/models"
)

func newTermRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTermRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "academic_year", "half", "start_date", "end_date", "lifecycle", "created_at", "updated_at"}).
		AddRow("term-1", "Semester 1", "2026/2027", 1, time.Now(), time.Now(), models.TermActive, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE id = $1")).
		WithArgs("term-1").
		WillReturnRows(rows)

	term, err := repo.FindByID(context.Background(), "term-1")
	require.NoError(t, err)
	require.Equal(t, models.TermActive, term.Lifecycle)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryAdvanceLifecycle(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET lifecycle = $2, updated_at = NOW() WHERE id = $1 AND lifecycle = $3")).
		WithArgs("term-1", models.TermClosing, models.TermActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.AdvanceLifecycle(context.Background(), "term-1", models.TermActive, models.TermClosing)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryAdvanceLifecycleConcurrentChange(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET lifecycle")).
		WithArgs("term-1", models.TermClosing, models.TermActive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AdvanceLifecycle(context.Background(), "term-1", models.TermActive, models.TermClosing)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryList(t *testing.T) {
	db, mock, cleanup := newTermRepoMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "academic_year", "half", "start_date", "end_date", "lifecycle", "created_at", "updated_at"}).
		AddRow("term-1", "Semester 1", "2026/2027", 1, time.Now(), time.Now(), models.TermActive, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE 1=1 AND lifecycle = $1")).
		WithArgs(models.TermActive).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM terms WHERE 1=1 AND lifecycle = $1")).
		WithArgs(models.TermActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	terms, total, err := repo.List(context.Background(), models.TermFilter{Lifecycle: models.TermActive})
	require.NoError(t, err)
	require.Len(t, terms, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
