// Package accounts creates accounts together with everything an account
// needs from its first request on.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/app/repository"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/quota"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/shortener"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 5
)

var (
	ErrEmailTaken         = errors.New("accounts: email already registered")
	ErrInvalidAccount     = errors.New("accounts: invalid account data")
	ErrAccountNotFound    = errors.New("accounts: account not found")
	ErrCodeSpaceExhausted = errors.New("accounts: could not allocate a unique referral code")
)

type CreateInput struct {
	Email        string
	ReferralCode string // code of the referrer, optional
}

type CreateResult struct {
	Account     *models.Account     `json:"account"`
	Entitlement *models.Entitlement `json:"entitlement"`
	// Referral is set when a referral code was given. A rejected code does
	// not fail the account creation.
	Referral *referral.RegisterResult `json:"referral,omitempty"`
}

type Factory struct {
	db        *gorm.DB
	repos     *repository.Factory
	referrals *referral.Engine
	now       func() time.Time
}

func NewFactory(db *gorm.DB, referrals *referral.Engine) *Factory {
	return &Factory{db: db, repos: repository.NewFactory(db), referrals: referrals, now: time.Now}
}

// Create inserts a free account, its entitlement and, when a code is given,
// the referral relationship in one transaction.
func (f *Factory) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	account := &models.Account{
		Email: strings.ToLower(strings.TrimSpace(in.Email)),
		Plan:  string(entitlements.PlanFree),
	}

	var result CreateResult
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := f.repos.WithTx(tx)
		taken, err := repos.Account.EmailExists(account.Email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			return ErrEmailTaken
		}

		code, err := f.uniqueCode(repos.Account)
		if err != nil {
			return err
		}
		account.ReferralCode = code
		if err := account.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAccount, err)
		}
		if err := repos.Account.Create(account); err != nil {
			return fmt.Errorf("insert account: %w", err)
		}

		limits := entitlements.Resolve(entitlements.PlanFree)
		periodStart := quota.PeriodStart(f.now())
		ent := &models.Entitlement{
			AccountID:         account.ID,
			MaxShortcuts:      limits.MaxShortcuts,
			MaxAIRequests:     limits.MaxAIRequests,
			UsagePeriodStart:  periodStart,
			UsagePeriodAnchor: &periodStart,
		}
		if err := repos.Entitlement.Create(ent); err != nil {
			return fmt.Errorf("insert entitlement: %w", err)
		}

		result = CreateResult{Account: account, Entitlement: ent}
		if strings.TrimSpace(in.ReferralCode) == "" || f.referrals == nil {
			return nil
		}
		reg, err := f.referrals.RegisterTx(tx, account.ID, in.ReferralCode)
		if err != nil {
			return err
		}
		result.Referral = &reg
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	log.Infof("[Accounts] created account %d (%s)", account.ID, account.Email)
	return result, nil
}

func (f *Factory) uniqueCode(accounts repository.AccountRepository) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := shortener.GenerateReferralCode(referralCodeLength)
		if err != nil {
			return "", err
		}
		taken, err := accounts.ReferralCodeExists(code)
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func (f *Factory) Get(ctx context.Context, id uint) (*models.Account, error) {
	account, err := repository.NewAccountRepository(f.db.WithContext(ctx)).GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}
