// Package config loads and validates the knowledge-graph indexer
// configuration from YAML files with environment-variable overrides. It
// provides typed structs for every stage: graph loading, the metric engine,
// fact persistence, template clustering, search, and the supporting services.
package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RDFType is the default is-a predicate.
const RDFType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Config is the top-level application configuration.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Engine     EngineConfig     `yaml:"engine"`
	FactStore  FactStoreConfig  `yaml:"factStore"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Templates  TemplatesConfig  `yaml:"templates"`
	Search     SearchConfig     `yaml:"search"`
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GraphConfig locates the input graph and the is-a predicate.
type GraphConfig struct {
	Input              string `yaml:"input"`
	TypePredicate      string `yaml:"typePredicate" validate:"required"`
	MaxEntityIRILength int    `yaml:"maxEntityIRILength" validate:"gt=0"`
}

// EngineConfig controls the metric computation pool and stage ceilings.
type EngineConfig struct {
	Workers      int            `yaml:"workers" validate:"gte=1"`
	StageTimeout time.Duration  `yaml:"stageTimeout"`
	InfoRank     bool           `yaml:"inforank"`
	PageRank     PageRankConfig `yaml:"pagerank"`
}

// PageRankConfig parameterises the default centrality ranker.
type PageRankConfig struct {
	Damping          float64 `yaml:"damping" validate:"gt=0,lt=1"`
	StartValue       float64 `yaml:"startValue" validate:"gt=0"`
	Iterations       int     `yaml:"iterations" validate:"gte=1"`
	ConsiderLiterals bool    `yaml:"considerLiterals"`
}

// FactStoreConfig selects where metric layers are persisted.
type FactStoreConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=segment bolt"`
	DataDir  string `yaml:"dataDir"`
	BoltPath string `yaml:"boltPath"`
}

// ClusteringConfig holds the template builder parameters.
type ClusteringConfig struct {
	Buckets                int       `yaml:"buckets" validate:"gte=1"`
	Iterations             int       `yaml:"iterations"`
	Attempts               int       `yaml:"attempts" validate:"gte=1"`
	Seed                   int64     `yaml:"seed"`
	FieldName              string    `yaml:"fieldName" validate:"required"`
	FieldWeights           []float64 `yaml:"fieldWeights" validate:"dive,gte=0"`
	DatatypeFieldWeights   []float64 `yaml:"datatypeFieldWeights" validate:"dive,gte=0"`
	ObjectFieldWeights     []float64 `yaml:"objectFieldWeights" validate:"dive,gte=0"`
	RelationsFieldWeights  []float64 `yaml:"relationsFieldWeights" validate:"dive,gte=0"`
	PredicatesOverride     []string  `yaml:"predicatesOverride"`
	TypePredicatesOverride []string  `yaml:"typePredicatesOverride"`
	TypeFieldWeight        float64   `yaml:"typeFieldWeight" validate:"gte=0"`
	TypePrefixes           []string  `yaml:"typePrefixes"`
	AllowedTypes           []string  `yaml:"allowedTypes"`
	TypesToIgnore          []string  `yaml:"typesToIgnore"`
	Recluster              bool      `yaml:"recluster"`
	SplitDatatypeObject    bool      `yaml:"splitDatatypeObject"`
	RelationsFields        bool      `yaml:"relationsFields"`
	// TieBreak orders clusters whose centroids are equal. "deterministic"
	// ranks the larger cluster first, then the one with the lexically
	// smallest predicate. "random" reproduces the behaviour of earlier
	// builds: a repeated centroid is replaced by a random value in
	// [0, 0.01), drawn from the Seed stream, so the tied cluster usually
	// ranks last.
	TieBreak               string    `yaml:"tieBreak" validate:"oneof=deterministic random"`
}

// TemplatesConfig selects the scope, score source and combination policy.
type TemplatesConfig struct {
	Scope                   string  `yaml:"scope" validate:"oneof=global type entity"`
	Source                  string  `yaml:"source" validate:"required"`
	CombineWith             string  `yaml:"combineWith"`
	CombineWeight           float64 `yaml:"combineWeight" validate:"gte=0,lte=1"`
	TypeCombination         string  `yaml:"typeCombination" validate:"oneof=union mostAppearances maximumValues geometricMean repetitions"`
	EntityCombineWithGlobal bool    `yaml:"entityCombineWithGlobal"`
	EntityCombinationWeight float64 `yaml:"entityCombinationWeight" validate:"gte=0,lte=1"`
	OutputDir               string  `yaml:"outputDir"`
	ProgressEvery           int     `yaml:"progressEvery" validate:"gte=1"`
}

// SearchConfig controls the connector backend and BM25F parameters.
type SearchConfig struct {
	Backend string  `yaml:"backend" validate:"oneof=bm25f bleve"`
	K1      float64 `yaml:"k1" validate:"gte=0"`
	B       float64 `yaml:"b" validate:"gte=0,lte=1"`
	Limit   int     `yaml:"limit" validate:"gte=1"`
}

// DatabaseConfig holds template store connection parameters.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=postgres sqlite"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	SQLitePath      string        `yaml:"sqlitePath"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	MetricsComplete string `yaml:"metricsComplete"`
	TemplateBuilt   string `yaml:"templateBuilt"`
	IndexProgress   string `yaml:"indexProgress"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ServerConfig holds HTTP server settings for the template service.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Weight lists are sorted descending so
// that position 0 is always the highest-priority field.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.Clustering.sortWeights()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := defaultConfig()
	cfg.Clustering.sortWeights()
	return cfg
}

func (c *ClusteringConfig) sortWeights() {
	for _, w := range [][]float64{
		c.FieldWeights,
		c.DatatypeFieldWeights,
		c.ObjectFieldWeights,
		c.RelationsFieldWeights,
	} {
		sort.Sort(sort.Reverse(sort.Float64Slice(w)))
	}
}

func defaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			TypePredicate:      RDFType,
			MaxEntityIRILength: 2048,
		},
		Engine: EngineConfig{
			Workers:      runtime.NumCPU(),
			StageTimeout: 24 * time.Hour,
			InfoRank:     false,
			PageRank: PageRankConfig{
				Damping:    0.85,
				StartValue: 0.1,
				Iterations: 40,
			},
		},
		FactStore: FactStoreConfig{
			Backend:  "segment",
			DataDir:  "./data/facts",
			BoltPath: "./data/facts.db",
		},
		Clustering: ClusteringConfig{
			Buckets:               3,
			Iterations:            1000,
			Attempts:              5,
			Seed:                  42,
			FieldName:             "field",
			FieldWeights:          []float64{1.0, 0.5, 0.2},
			DatatypeFieldWeights:  []float64{1.0, 0.5, 0.2},
			ObjectFieldWeights:    []float64{0.8, 0.4, 0.1},
			RelationsFieldWeights: []float64{0.6, 0.3, 0.1},
			TypeFieldWeight:       0.5,
			TieBreak:              "deterministic",
		},
		Templates: TemplatesConfig{
			Scope:                   "global",
			Source:                  "entropyEntityTypeImportance",
			CombineWeight:           0.5,
			TypeCombination:         "mostAppearances",
			EntityCombinationWeight: 0.5,
			OutputDir:               "./data/templates",
			ProgressEvery:           10000,
		},
		Search: SearchConfig{
			Backend: "bm25f",
			K1:      1.2,
			B:       0.75,
			Limit:   100,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			Database:        "kgsearch",
			User:            "kgsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			SQLitePath:      "./data/templates.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "kgsearch-templater",
			Topics: KafkaTopics{
				MetricsComplete: "kg.metrics.complete",
				TemplateBuilt:   "kg.template.built",
				IndexProgress:   "kg.index.progress",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: time.Hour,
		},
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
		},
	}
}

// applyEnvOverrides reads KG_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KG_GRAPH_INPUT"); v != "" {
		cfg.Graph.Input = v
	}
	if v := os.Getenv("KG_ENGINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}
	if v := os.Getenv("KG_ENGINE_STAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.StageTimeout = d
		}
	}
	if v := os.Getenv("KG_FACTSTORE_BACKEND"); v != "" {
		cfg.FactStore.Backend = v
	}
	if v := os.Getenv("KG_FACTSTORE_DATA_DIR"); v != "" {
		cfg.FactStore.DataDir = v
	}
	if v := os.Getenv("KG_CLUSTERING_BUCKETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clustering.Buckets = n
		}
	}
	if v := os.Getenv("KG_CLUSTERING_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Clustering.Seed = n
		}
	}
	if v := os.Getenv("KG_TEMPLATES_SCOPE"); v != "" {
		cfg.Templates.Scope = v
	}
	if v := os.Getenv("KG_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("KG_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("KG_DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("KG_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("KG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
