package repository

import (
	"github.com/ManuelReschke/ExpandFox/app/models"
	"gorm.io/gorm"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.First(&account, id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail retrieves an account by its normalized email address
func (r *accountRepository) GetByEmail(email string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("email = ?", email).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByReferralCode(code string) (*models.Account, error) {
	var account models.Account
	err := r.db.Where("referral_code = ?", code).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) EmailExists(email string) (bool, error) {
	var n int64
	err := r.db.Model(&models.Account{}).Where("email = ?", email).Count(&n).Error
	return n > 0, err
}

func (r *accountRepository) ReferralCodeExists(code string) (bool, error) {
	var n int64
	err := r.db.Model(&models.Account{}).Where("referral_code = ?", code).Count(&n).Error
	return n > 0, err
}

// Count returns the total number of accounts
func (r *accountRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&models.Account{}).Count(&n).Error
	return n, err
}
