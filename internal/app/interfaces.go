package app

import (
	"github.com/robfig/cron/v3"
	"github.com/talkincode/keyshop/config"
	"github.com/talkincode/keyshop/internal/repository"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// StoreProvider provides the catalog store
type StoreProvider interface {
	Store() repository.Store
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// AppContext combines all provider interfaces for full application context
type AppContext interface {
	DBProvider
	ConfigProvider
	StoreProvider
	SchedulerProvider

	MigrateDB(track bool) error
	InitDb() error
	DropAll()
	Release()
}
