package mysql

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
)

func newMockStore(t *testing.T) (domain.SubmissionStore, sqlmock.Sqlmock, *crypto.Encryptor) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: glogger.Default.LogMode(glogger.Silent)})
	require.NoError(t, err)

	enc, err := crypto.New("store-test-key")
	require.NoError(t, err)

	return NewSubmissionStore(gdb, enc), mock, enc
}

// decryptsTo matches a ciphertext argument whose decrypted map equals want.
type decryptsTo struct {
	enc  *crypto.Encryptor
	want map[string]string
}

func (d decryptsTo) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	got := d.enc.DecryptMap(s)
	if len(got) != len(d.want) {
		return false
	}
	for k, w := range d.want {
		if got[k] != w {
			return false
		}
	}
	return true
}

func TestUpdateSubmissionMergesStoredFormData(t *testing.T) {
	store, mock, enc := newMockStore(t)

	stored, err := enc.EncryptMap(map[string]any{
		"account_number": "1234567890",
		"zip":            "08601",
	})
	require.NoError(t, err)

	step := 3
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `form_data` FROM `submissions`").
		WillReturnRows(sqlmock.NewRows([]string{"form_data"}).AddRow(stored))
	mock.ExpectExec("UPDATE `submissions` SET").
		WithArgs(decryptsTo{enc: enc, want: map[string]string{
			"account_number": "1234567890",
			"zip":            "08609",
			"first_name":     "Pat",
		}}, step, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.UpdateSubmission(context.Background(), 1, domain.SubmissionUpdate{
		FormData: domain.FormData{"first_name": "Pat", "zip": "08609"},
		Step:     &step,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubmissionWithoutFormDataSkipsRead(t *testing.T) {
	store, mock, _ := newMockStore(t)

	status := domain.SubmissionStatusCompleted
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `submissions` SET").
		WithArgs(sqlmock.AnyArg(), string(status), sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateSubmission(context.Background(), 1, domain.SubmissionUpdate{
		Status: &status,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
