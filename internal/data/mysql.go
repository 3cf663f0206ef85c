package data

import (
	"fmt"
	"time"

	"MetaDJ/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewAuditDB opens the optional audit database. Without a configured source
// it returns a nil *gorm.DB and circuit events are only logged.
// Supported drivers are "mysql" (default) and "sqlite".
func NewAuditDB(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(log.With(l, "module", "data/db"))

	if c == nil || c.Database == nil || c.Database.Source == "" {
		helper.Info("audit database not configured, circuit events are logged only")
		return nil, func() {}, nil
	}

	var dialector gorm.Dialector
	switch c.Database.Driver {
	case "", "mysql":
		dialector = mysql.Open(c.Database.Source)
	case "sqlite":
		dialector = sqlite.Open(c.Database.Source)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	db, err := openGorm(dialector, helper)
	if err != nil {
		helper.Errorf("failed to open audit database: %v", err)
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		helper.Errorf("failed to ping audit database: %v", err)
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if err := db.AutoMigrate(&CircuitAuditLog{}); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}

	helper.Infof("audit database ready (driver=%s)", dialector.Name())

	cleanup := func() {
		helper.Info("closing audit database")
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("failed to close audit database: %v", err)
		}
	}

	return db, cleanup, nil
}

func openGorm(dialector gorm.Dialector, helper *log.Helper) (*gorm.DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialector.Name(), err)
	}
	return db, nil
}

// gormLogAdapter adapts Kratos log.Helper to the GORM logger writer.
type gormLogAdapter struct {
	helper *log.Helper
}

func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Warnf(format, v...)
}
