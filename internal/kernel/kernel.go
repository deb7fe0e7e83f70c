// Package kernel implements the Circle Kernel: it owns the stores, caches and
// connections, and exposes every classification, assignment and capacity
// operation behind one facade.
package kernel

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/circle-kernel/internal/batch"
	"github.com/circle-kernel/internal/cache"
	"github.com/circle-kernel/internal/capacity"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/config"
	"github.com/circle-kernel/internal/ledger"
	"github.com/circle-kernel/internal/scoring"
	"github.com/circle-kernel/internal/signals"
	"github.com/circle-kernel/internal/store/memstore"
	"github.com/circle-kernel/internal/store/sqlite"
	"github.com/circle-kernel/internal/suggest"
)

// Config holds the Circle Kernel configuration
type Config struct {
	Circles config.Config

	// DBPath selects SQLite persistence; empty keeps everything in memory.
	DBPath string

	// Redis enables the shared suggestion cache and cross-process contact
	// locks. Empty disables both.
	RedisURL string

	// NATS enables assignment events. Empty logs them instead.
	NATSURL       string
	SubjectPrefix string
}

// DefaultConfig returns the shipped circle configuration with connection
// settings read from CIRCLES_DB, REDIS_URL and NATS_URL.
func DefaultConfig() Config {
	return Config{
		Circles:       config.Default(),
		DBPath:        getEnv("CIRCLES_DB", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		SubjectPrefix: getEnv("CIRCLES_SUBJECT_PREFIX", ledger.DefaultSubjectPrefix),
	}
}

// Records is an assignment store able to commit a record and the live
// circle pointer together.
type Records interface {
	circles.AssignmentStore
	ledger.Committer
}

// Stores bundles the adapters the kernel runs on. Calendar may be nil.
type Stores struct {
	Contacts     circles.ContactStore
	Interactions circles.InteractionStore
	Calendar     circles.CalendarSource
	Records      Records
}

// Stats is a point-in-time view of kernel internals.
type Stats struct {
	Cache cache.Stats `json:"cache"`
}

// Kernel is the Circle Kernel
type Kernel struct {
	config Config
	logger *zap.Logger

	// Data layer
	stores      Stores
	db          *sqlite.Store
	redisClient *redis.Client
	natsConn    *nats.Conn
	calendar    *signals.CachedCalendar

	// Engines
	suggestions *cache.SuggestionCache
	analyzer    *suggest.Analyzer
	ledger      *ledger.Ledger
	capacity    *capacity.Analyzer
	advisor     *capacity.Advisor

	closeOnce sync.Once
}

// New creates a kernel, opening SQLite when DBPath is set and dialing Redis
// and NATS when their URLs are set.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Kernel, error) {
	if err := cfg.Circles.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{config: cfg, logger: logger.Named("kernel")}

	if cfg.DBPath != "" {
		db, err := sqlite.Open(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		k.db = db
		k.stores = Stores{Contacts: db, Interactions: db, Calendar: db, Records: db.Assignments()}
	} else {
		mem := memstore.New()
		k.stores = Stores{Contacts: mem, Interactions: mem, Calendar: mem, Records: mem.Assignments()}
		k.logger.Warn("CIRCLES_DB not set, using in-memory store")
	}

	if err := k.connect(ctx); err != nil {
		k.Close()
		return nil, err
	}
	if err := k.wire(); err != nil {
		k.Close()
		return nil, err
	}
	return k, nil
}

// NewWithStores creates a kernel over caller-supplied adapters. Connection
// settings in cfg are honoured; DBPath is ignored.
func NewWithStores(ctx context.Context, cfg Config, stores Stores, logger *zap.Logger) (*Kernel, error) {
	if err := cfg.Circles.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{config: cfg, logger: logger.Named("kernel"), stores: stores}
	if err := k.connect(ctx); err != nil {
		k.Close()
		return nil, err
	}
	if err := k.wire(); err != nil {
		k.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kernel) connect(ctx context.Context) error {
	if k.config.RedisURL != "" {
		opts, err := redis.ParseURL(k.config.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		k.redisClient = redis.NewClient(opts)
		if err := k.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		k.logger.Info("Connected to Redis", zap.String("addr", opts.Addr))
	}

	if k.config.NATSURL != "" {
		conn, err := nats.Connect(k.config.NATSURL,
			nats.Name("circle-kernel"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(10),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		k.natsConn = conn
		k.logger.Info("Connected to NATS", zap.String("url", k.config.NATSURL))
	}
	return nil
}

func (k *Kernel) wire() error {
	cfg := k.config.Circles

	calendar := k.stores.Calendar
	if calendar != nil && cfg.Cache.CalendarTTL > 0 {
		cc, err := signals.NewCachedCalendar(calendar, cfg.Cache.CalendarTTL, 0, k.logger)
		if err != nil {
			return err
		}
		k.calendar = cc
		calendar = cc
	}

	sc, err := cache.New(cache.Options{
		TTL:         cfg.Cache.TTL,
		MaxEntries:  cfg.Cache.MaxEntries,
		Redis:       k.redisClient,
		RedisPrefix: cfg.Cache.RedisPrefix,
	}, k.logger)
	if err != nil {
		return err
	}
	k.suggestions = sc

	k.analyzer = suggest.NewAnalyzer(
		k.stores.Contacts,
		signals.NewExtractor(k.stores.Interactions, calendar, cfg, k.logger),
		scoring.NewClassifier(cfg.Classifier),
		sc,
		batch.NewCoordinator[circles.CircleSuggestion](cfg.Batch.Concurrency, cfg.Batch.PerContactTimeout, k.logger),
		k.logger,
	)

	publishers := ledger.MultiPublisher{ledger.NewLogPublisher(k.logger)}
	if k.natsConn != nil {
		publishers = append(publishers, ledger.NewNATSPublisher(k.natsConn, k.config.SubjectPrefix, k.logger))
	}
	k.ledger = ledger.New(k.stores.Contacts, k.stores.Records, k.logger,
		ledger.WithInvalidator(sc),
		ledger.WithPublisher(publishers),
		ledger.WithLocker(ledger.NewContactLocker(k.redisClient, k.logger)),
	)

	k.capacity = capacity.NewAnalyzer(k.stores.Records, cfg.Capacity, k.logger)
	k.advisor = capacity.NewAdvisor(k.stores.Records, k.stores.Contacts, k.stores.Records, cfg.Capacity, k.logger)
	return nil
}

// Close releases every connection. It is safe to call more than once.
func (k *Kernel) Close() error {
	var err error
	k.closeOnce.Do(func() {
		k.logger.Info("Stopping Circle Kernel...")
		if k.calendar != nil {
			k.calendar.Close()
		}
		if k.natsConn != nil {
			if drainErr := k.natsConn.Drain(); drainErr != nil {
				k.natsConn.Close()
			}
		}
		if k.redisClient != nil {
			k.redisClient.Close()
		}
		if k.db != nil {
			err = k.db.Close()
		}
	})
	return err
}

// Store returns the SQLite store when the kernel runs on one.
func (k *Kernel) Store() *sqlite.Store {
	return k.db
}

// Stats reports cache counters.
func (k *Kernel) Stats() Stats {
	return Stats{Cache: k.suggestions.Stats()}
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
