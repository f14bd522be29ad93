package repository

import (
	"github.com/ManuelReschke/ExpandFox/app/models"
	"gorm.io/gorm"
)

type entitlementRepository struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

func (r *entitlementRepository) Create(ent *models.Entitlement) error {
	return r.db.Create(ent).Error
}

func (r *entitlementRepository) GetByAccountID(accountID uint) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := r.db.Where("account_id = ?", accountID).First(&ent).Error
	if err != nil {
		return nil, err
	}
	return &ent, nil
}
