package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/database/dbtest"
)

func TestAccountRepository(t *testing.T) {
	repos := NewFactory(dbtest.Open(t)).GetRepositories()

	account := &models.Account{Email: "repo@example.com", Plan: "free", ReferralCode: "ABCD2345"}
	require.NoError(t, repos.Account.Create(account))
	require.NotZero(t, account.ID)

	got, err := repos.Account.GetByEmail("repo@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	got, err = repos.Account.GetByReferralCode("ABCD2345")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	exists, err := repos.Account.EmailExists("repo@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repos.Account.ReferralCodeExists("ZZZZ9999")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repos.Account.GetByID(account.ID + 100)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	n, err := repos.Account.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEntitlementRepository(t *testing.T) {
	db := dbtest.Open(t)
	f := NewFactory(db)

	account := &models.Account{Email: "ent@example.com", Plan: "free", ReferralCode: "EFGH2345"}
	require.NoError(t, f.GetAccountRepository().Create(account))

	err := db.Transaction(func(tx *gorm.DB) error {
		return f.WithTx(tx).Entitlement.Create(&models.Entitlement{
			AccountID:        account.ID,
			MaxShortcuts:     50,
			MaxAIRequests:    100,
			UsagePeriodStart: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	ent, err := f.GetEntitlementRepository().GetByAccountID(account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), ent.MaxShortcuts)
	assert.Equal(t, int64(0), ent.ShortcutsUsed)
}
