package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormprom "gorm.io/plugin/prometheus"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

func DSN(cfg config.Database) string {
	// UTC everywhere; subscription ordering compares stored event timestamps.
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
}

func SetupDatabase(cfg config.Database) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	gormCfg := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if !env.IsDev() {
		gormCfg.Logger = logger.Default.LogMode(logger.Warn)
	}

	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(cfg),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), gormCfg)
		if err == nil {
			if err = db.Use(gormprom.New(gormprom.Config{
				DBName:          cfg.Name,
				RefreshInterval: 15,
				StartServer:     false,
			})); err != nil {
				log.Warnf("[Database] metrics plugin disabled: %v", err)
			}
			if err = Migrate(db); err != nil {
				return nil, err
			}
			return db, nil
		}

		log.Warnf("[Database] failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] retrying in %v", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	return nil, fmt.Errorf("connect database: %w", err)
}

// Migrate brings the schema of all models up to date. Production schemas are
// owned by cmd/migrate; this keeps dev and test databases usable on their own.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
