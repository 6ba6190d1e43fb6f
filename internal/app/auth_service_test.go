package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docqa/internal/pkg/jwtutil"
	"docqa/internal/repository"
)

func newAuthService(t *testing.T) (*AuthService, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewAuthService(repository.NewUserRepository(db), "secret", time.Hour), mock
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	svc, mock := newAuthService(t)
	cases := []RegisterInput{
		{Username: "", Email: "a@b.c", Password: "password1"},
		{Username: "ada", Email: "not-an-email", Password: "password1"},
		{Username: "ada", Email: "a@b.c", Password: "short"},
	}
	for _, in := range cases {
		_, err := svc.Register(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterUsernameTaken(t *testing.T) {
	svc, mock := newAuthService(t)
	mock.ExpectQuery("SELECT \\* FROM `users` WHERE username = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(1, "ada"))

	_, err := svc.Register(context.Background(), RegisterInput{Username: "ada", Email: "ada@example.com", Password: "password1"})
	assert.ErrorIs(t, err, ErrUsernameExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterCreatesUser(t *testing.T) {
	svc, mock := newAuthService(t)
	mock.ExpectQuery("SELECT \\* FROM `users` WHERE username = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT \\* FROM `users` WHERE email = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `users`").WillReturnResult(sqlmock.NewResult(11, 1))

	res, err := svc.Register(context.Background(), RegisterInput{Username: " ada ", Email: "Ada@Example.com", Password: "password1"})
	require.NoError(t, err)
	assert.EqualValues(t, 11, res.User.ID)
	assert.Equal(t, "ada@example.com", res.User.Email)

	claims, err := jwtutil.ParseToken("secret", res.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 11, claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin(t *testing.T) {
	svc, mock := newAuthService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(t, err)
	active := true
	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "is_active"}).
			AddRow(5, "ada", "ada@example.com", string(hash), active)
	}

	mock.ExpectQuery("SELECT \\* FROM `users` WHERE username = \\?").WillReturnRows(rows())
	res, err := svc.Login(context.Background(), LoginInput{Username: "ada", Password: "password1"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.User.ID)

	mock.ExpectQuery("SELECT \\* FROM `users` WHERE username = \\?").WillReturnRows(rows())
	_, err = svc.Login(context.Background(), LoginInput{Username: "ada", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	mock.ExpectQuery("SELECT \\* FROM `users` WHERE username = \\?").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "password1"})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	active = false
	mock.ExpectQuery("SELECT \\* FROM `users` WHERE username = \\?").WillReturnRows(rows())
	_, err = svc.Login(context.Background(), LoginInput{Username: "ada", Password: "password1"})
	assert.ErrorIs(t, err, ErrAccountDisabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
