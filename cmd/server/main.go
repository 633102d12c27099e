package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lambra/internal/api"
	"lambra/internal/apperr"
	"lambra/internal/config"
	"lambra/internal/dsl"
	"lambra/internal/engine"
	"lambra/internal/gateway"
	"lambra/internal/lock"
	"lambra/internal/logger"
	"lambra/internal/pg"
	"lambra/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Dir:        cfg.LogDir,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	}); err != nil {
		logger.Fatalf("logger: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Хранилище
	var st store.Store = store.NewMemory()
	var db *sql.DB
	if cfg.DBURL != "" {
		db, err = pg.Open(ctx, cfg.DBURL, pg.Pool{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime.Duration,
		})
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, db); err != nil {
				logger.Fatalf("migrate: %v", err)
			}
		}
		st = pg.NewStore(db)
		logger.Infof("store: postgres")
	} else {
		logger.Infof("store: in-memory")
	}

	// 2. Блокировки генерации
	var locks lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		var rc *redis.Client
		rc, err = lock.NewRedisClient(ctx, lock.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		locks = lock.NewRedis(rc, "lambra", cfg.LockTTL.Duration)
		logger.Infof("locks: redis %s", cfg.RedisAddr)
	}

	// 3. Движок
	var (
		eng   engine.Engine
		local *engine.Local
	)
	if cfg.EngineURL != "" {
		eng = engine.NewHTTP(cfg.EngineURL, cfg.EngineTimeout.Duration)
		logger.Infof("engine: %s", cfg.EngineURL)
	} else {
		local = engine.NewLocal(cfg.Workspace)
		eng = local
		logger.Infof("engine: built-in, workspace %s", cfg.Workspace)
	}

	svc := gateway.New(st, eng, locks, gateway.Options{
		CallbackURL:     cfg.CallbackURL,
		DispatchTimeout: cfg.EngineTimeout.Duration,
		StrictSchemas:   cfg.StrictSchemas,
	})
	if local != nil {
		local.SetReporter(svc)
	}

	// 4. Начальные определения
	if cfg.DefinitionsDir != "" {
		if err := seed(ctx, svc, cfg.DefinitionsDir); err != nil {
			logger.Fatalf("definitions: %v", err)
		}
	}

	// 5. HTTP
	var health api.Pinger
	if db != nil {
		health = db
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(svc, health),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("lambra listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	if local != nil {
		local.Wait()
	}
}

// seed импортирует YAML-определения; уже существующие namespace пропускаются.
func seed(ctx context.Context, svc *gateway.Service, dir string) error {
	defs, err := dsl.LoadAllDefinitions(dir)
	if err != nil {
		return err
	}
	for _, d := range defs {
		log := logger.WithField("source", d.Source).WithField("namespace", d.Project.Namespace)
		p, err := svc.ImportDefinition(ctx, d)
		switch {
		case err == nil:
			log.Infof("imported project %s (%d entities)", p.ID, len(p.Entities))
		case isDuplicateNamespace(err):
			log.Infof("namespace already exists, skipped")
		default:
			return err
		}
	}
	return nil
}

func isDuplicateNamespace(err error) bool {
	for _, f := range apperr.FieldsOf(err) {
		if f.Code == apperr.CodeDuplicate && f.Field == "namespace" {
			return true
		}
	}
	return false
}
