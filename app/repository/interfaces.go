package repository

import (
	"github.com/ManuelReschke/ExpandFox/app/models"
	"gorm.io/gorm"
)

// AccountRepository defines the account lookups shared by the services
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id uint) (*models.Account, error)
	GetByEmail(email string) (*models.Account, error)
	GetByReferralCode(code string) (*models.Account, error)
	EmailExists(email string) (bool, error)
	ReferralCodeExists(code string) (bool, error)
	Count() (int64, error)
}

// EntitlementRepository defines the entitlement reads and the initial insert.
// Counter updates stay in the quota package, they are conditional statements.
type EntitlementRepository interface {
	Create(ent *models.Entitlement) error
	GetByAccountID(accountID uint) (*models.Entitlement, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account     AccountRepository
	Entitlement EntitlementRepository
}

// NewRepositories creates a new instance of all repositories on db, which may
// be a transaction.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:     NewAccountRepository(db),
		Entitlement: NewEntitlementRepository(db),
	}
}
