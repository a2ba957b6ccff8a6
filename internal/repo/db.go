package repo

import (
	"fmt"

	"chatmatch-service/internal/config"
	"chatmatch-service/internal/model"
	"chatmatch-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Models lists every table this service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.QueueEntry{},
		&model.ChatRoom{},
	}
}

// Open connects with the configured driver. TranslateError is always on so
// unique violations come back as gorm.ErrDuplicatedKey on every dialect.
func Open(conf config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.Driver {
	case "postgres":
		dialector = postgres.Open(conf.DSN)
	case "mysql":
		dialector = mysql.Open(conf.DSN)
	case "sqlite":
		dialector = sqlite.Open(conf.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", conf.Driver)
	}
	return gorm.Open(dialector, &gorm.Config{TranslateError: true})
}

func InitDB() {
	conf := config.GlobalConfig.Database
	var err error
	DB, err = Open(conf)
	if err != nil {
		logger.Log.Fatal("Failed to connect to database",
			zap.String("driver", conf.Driver),
			zap.Error(err),
		)
	}

	if err := DB.AutoMigrate(Models()...); err != nil {
		logger.Log.Fatal("Failed to migrate database", zap.Error(err))
	}
}
