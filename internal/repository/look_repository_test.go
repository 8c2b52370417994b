package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/lookstudio/internal/models"
)

func TestSetDefault_ClearsThenSets(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewLookRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM look_videos")).WithArgs(int64(4), int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE look_videos SET is_default = 0 WHERE look_id = ?")).WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE look_videos SET is_default = 1")).WithArgs(int64(4), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetDefault(context.Background(), 4, 12))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefault_NotLinked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewLookRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.SetDefault(context.Background(), 4, 99), ErrNotLinked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var lookRowColumns = []string{"id", "user_id", "title", "notes", "image_url", "visibility", "created_at", "updated_at"}

func TestLookGet_LoadsSharesForSharedLooks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM looks l WHERE l.id = ?")).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(lookRowColumns).AddRow(3, 1, "Evening", "", "", "shared", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM look_shares WHERE look_id = ?")).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(2).AddRow(5))

	look, err := NewLookRepository(db).Get(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, look)
	assert.Equal(t, models.VisibilityShared, look.Visibility)
	assert.Equal(t, []int64{2, 5}, look.SharedWith)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookList_SharedWithUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN look_shares s ON s.look_id = l.id WHERE s.user_id = ? AND l.user_id <> ? AND l.visibility = ? AND (l.title LIKE ? OR l.notes LIKE ?)")).
		WithArgs(int64(2), int64(2), "shared", "%coat%", "%coat%", 20, 0).
		WillReturnRows(sqlmock.NewRows(lookRowColumns).AddRow(3, 1, "Coats", "", "", "shared", now, now))

	looks, err := NewLookRepository(db).List(context.Background(), LookFilter{SharedWith: 2, Search: "coat", Limit: 20})
	require.NoError(t, err)
	require.Len(t, looks, 1)
	assert.Equal(t, "Coats", looks[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookSetVisibility_ReplacesShares(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE looks SET visibility = ?")).WithArgs("shared", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM look_shares WHERE look_id = ?")).WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO look_shares")).WithArgs(int64(3), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO look_shares")).WithArgs(int64(3), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = NewLookRepository(db).SetVisibility(context.Background(), 3, models.VisibilityShared, []int64{2, 5})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookSetVisibility_PublicClearsShares(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE looks SET visibility").WithArgs("public", int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM look_shares").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, NewLookRepository(db).SetVisibility(context.Background(), 3, models.VisibilityPublic, []int64{2}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
