package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetAccountRepository returns the account repository instance
func (f *Factory) GetAccountRepository() AccountRepository {
	return f.GetRepositories().Account
}

// GetEntitlementRepository returns the entitlement repository instance
func (f *Factory) GetEntitlementRepository() EntitlementRepository {
	return f.GetRepositories().Entitlement
}

// WithTx returns repositories bound to tx. They are not cached.
func (f *Factory) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}
