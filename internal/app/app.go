package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/keyshop/config"
	"github.com/talkincode/keyshop/internal/adminapi"
	"github.com/talkincode/keyshop/internal/auth"
	"github.com/talkincode/keyshop/internal/cache"
	"github.com/talkincode/keyshop/internal/catalog"
	"github.com/talkincode/keyshop/internal/checkout"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/internal/notify"
	"github.com/talkincode/keyshop/internal/repository"
	"github.com/talkincode/keyshop/internal/shopapi"
	"github.com/talkincode/keyshop/internal/webserver"
	"github.com/talkincode/keyshop/pkg/common"
	"github.com/talkincode/keyshop/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const mailDrainTimeout = 10 * time.Second

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	store         *repository.GormStore
	bus           *notify.Bus
	catalog       *catalog.Service
	checkout      *checkout.Service
	resolver      *auth.Resolver
	rdb           *redis.Client
	catalogCache  *cache.CatalogCache
	confirmations *notify.OrderConfirmations
	web           *webserver.Server
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ StoreProvider     = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Store() repository.Store {
	return a.store
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Server returns the HTTP server with every route mounted.
func (a *Application) Server() *webserver.Server {
	return a.web
}

// Resolver returns the bearer token resolver.
func (a *Application) Resolver() *auth.Resolver {
	return a.resolver
}

// Init sets up logging, metrics, the database and every service, then
// mounts the HTTP routes and starts the cron jobs.
func (a *Application) Init() error {
	cfg := a.appConfig
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	if err := initLogger(cfg.Logger); err != nil {
		return err
	}
	common.SetIDNode(cfg.System.NodeID)

	// Initialize metrics with workdir convention
	err = metrics.InitMetrics(cfg.System.Workdir)
	if err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	if a.gormDB == nil {
		if cfg.Database.Type == "" {
			cfg.Database.Type = "postgres"
		}
		a.gormDB, err = getDatabase(cfg.Database, cfg.System.Workdir)
		if err != nil {
			return err
		}
		zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)
	}

	if err := a.MigrateDB(false); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	if err := a.initServices(); err != nil {
		return err
	}
	a.initJob()
	return nil
}

func initLogger(cfg config.LogConfig) error {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			return err
		}
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// getDatabase opens postgres, or sqlite for development. SQLite gets a
// single connection so that transactions serialize instead of failing
// with "database is locked".
func getDatabase(cfg config.DBConfig, workdir string) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
	if cfg.Debug {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.Name, workdir))
	case "postgres":
		dialector = postgres.Open(fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name))
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Type, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Type == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConn)
		sqlDB.SetMaxIdleConns(cfg.IdleConn)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

func sqliteDSN(name, workdir string) string {
	switch {
	case name == "" || name == ":memory:":
		name = ":memory:"
	case !filepath.IsAbs(name) && workdir != "":
		name = filepath.Join(workdir, "data", name)
	}
	if strings.HasPrefix(name, "file:") {
		return name
	}
	return "file:" + name + "?_foreign_keys=1&_busy_timeout=5000"
}

func (a *Application) initServices() error {
	cfg := a.appConfig

	a.store = repository.NewGormStore(a.gormDB, repository.WithLockTimeout(cfg.Shop.LockTimeout))
	a.bus = notify.NewBus()
	a.catalog = catalog.NewService(a.store, a.bus)
	a.checkout = checkout.NewService(a.store, a.bus, checkout.WithDefaultCountry(cfg.Shop.DefaultCountry))
	a.resolver = auth.NewResolver(cfg.Auth.JwtSecret, cfg.Auth.TokenTTL)

	var reader shopapi.CatalogReader = a.catalog
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Passwd, cfg.Redis.DB)
		cancel()
		if err != nil {
			zap.L().Warn("redis unavailable, catalog cache disabled",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.rdb = rdb
			a.catalogCache = cache.NewCatalogCache(a.catalog, rdb, cfg.Redis.TTL)
			if err := a.catalogCache.Attach(a.bus); err != nil {
				return err
			}
			reader = a.catalogCache
		}
	}

	if cfg.Mail.Enabled {
		money, err := notify.NewMoneyFormatter(cfg.Shop.Currency, cfg.Shop.Locale)
		if err != nil {
			return err
		}
		mailer := notify.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User, cfg.Mail.Passwd, cfg.Mail.From)
		a.confirmations, err = notify.NewOrderConfirmations(mailer, money, cfg.System.Appid, cfg.Mail.Workers)
		if err != nil {
			return err
		}
		if err := a.confirmations.Attach(a.bus); err != nil {
			return err
		}
	}

	a.web = webserver.New(cfg.Web, a.resolver.AdminMiddleware()...)
	shopapi.Register(a.web, reader, a.checkout, a.resolver)
	adminapi.Register(a.web, a.catalog, a.checkout)
	return nil
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			if err2, ok := err1.(error); ok {
				err = err2
				zap.S().Error(err2.Error())
			} else {
				err = fmt.Errorf("migration panic: %v", err1)
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

// InitDb recreates every table and loads the demo catalog.
func (a *Application) InitDb() error {
	a.DropAll()
	if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
		return err
	}
	a.checkCategories()
	a.checkDemoProducts()
	return nil
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.confirmations != nil {
		a.confirmations.Release(mailDrainTimeout)
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = metrics.Close()
	_ = zap.L().Sync()
}
