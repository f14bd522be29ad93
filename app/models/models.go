package models

// All returns every persisted model in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&Entitlement{},
		&BillingSubscription{},
		&BillingWebhookEvent{},
		&UpgradeRequest{},
		&ReferralRelationship{},
		&ReferralBonusGrant{},
	}
}
