package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	// StoreMode selects the library backend explicitly: "db" for the
	// relational store, "snapshot" for the flat-file document. There is
	// no auto-detect between them.
	StoreMode string `json:"store_mode"`
	DBPath    string `json:"db_path"`
	// EpisodeDBPath points at the podcast app's database for harvest and
	// identify; defaults to DBPath when the tables live side by side.
	EpisodeDBPath string `json:"episode_db_path"`

	Snapshot SnapshotConfig `json:"snapshot"`

	DefaultBackend string                   `json:"default_backend"`
	Backends       map[string]BackendConfig `json:"backends"`
	Diarizer       DiarizerConfig           `json:"diarizer"`

	Threshold float64        `json:"threshold"`
	Harvest   HarvestConfig  `json:"harvest"`
	Cache     CacheConfig    `json:"cache"`
	Hosted    HostedConfig   `json:"hosted"`
	Maintain  MaintainConfig `json:"maintain"`

	LogConfig logger.LogConfig `json:"log_config"`
}

type SnapshotConfig struct {
	FileStore FileStoreConfig `json:"file_store"`
	Key       string          `json:"key"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BackendConfig describes one embedding model. The map key in
// Config.Backends is the backend name used throughout the store.
type BackendConfig struct {
	ModelPath  string `json:"model_path"`
	ModelID    string `json:"model_id"`
	VersionTag string `json:"version_tag"`
	NumThreads int    `json:"num_threads"`
	Provider   string `json:"provider"`
}

type DiarizerConfig struct {
	SegmentationModel   string  `json:"segmentation_model"`
	EmbeddingModel      string  `json:"embedding_model"`
	NumThreads          int     `json:"num_threads"`
	NumClusters         int     `json:"num_clusters"`
	ClusteringThreshold float64 `json:"clustering_threshold"`
	MinDurationOn       float64 `json:"min_duration_on"`
	MinDurationOff      float64 `json:"min_duration_off"`
	Provider            string  `json:"provider"`
}

type HarvestConfig struct {
	MinSeconds    float64 `json:"min_seconds"`
	MaxPerSpeaker int     `json:"max_per_speaker"`
}

type CacheConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
}

type HostedConfig struct {
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

type MaintainConfig struct {
	CronSpec string `json:"cron_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.StoreMode == "" {
		cfg.StoreMode = "db"
	}
	switch cfg.StoreMode {
	case "db":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("db_path is required for db store mode")
		}
	case "snapshot":
		if cfg.Snapshot.FileStore.Type == "" {
			return nil, fmt.Errorf("snapshot.file_store.type is required for snapshot store mode")
		}
		if cfg.Snapshot.Key == "" {
			cfg.Snapshot.Key = "voice_library.json"
		}
	default:
		return nil, fmt.Errorf("store_mode must be db or snapshot")
	}
	if cfg.EpisodeDBPath == "" {
		cfg.EpisodeDBPath = cfg.DBPath
	}
	if cfg.DefaultBackend == "" && len(cfg.Backends) == 1 {
		for name := range cfg.Backends {
			cfg.DefaultBackend = name
		}
	}
	if cfg.DefaultBackend != "" {
		if _, ok := cfg.Backends[cfg.DefaultBackend]; !ok {
			return nil, fmt.Errorf("default_backend %q is not in backends", cfg.DefaultBackend)
		}
	}
	for name, b := range cfg.Backends {
		if b.ModelPath == "" {
			return nil, fmt.Errorf("backends.%s.model_path is required", name)
		}
		if b.ModelID == "" {
			b.ModelID = name
		}
		if b.NumThreads <= 0 {
			b.NumThreads = 2
		}
		if b.Provider == "" {
			b.Provider = "cpu"
		}
		cfg.Backends[name] = b
	}
	if cfg.Diarizer.SegmentationModel != "" || cfg.Diarizer.EmbeddingModel != "" {
		if cfg.Diarizer.SegmentationModel == "" || cfg.Diarizer.EmbeddingModel == "" {
			return nil, fmt.Errorf("diarizer needs both segmentation_model and embedding_model")
		}
		if cfg.Diarizer.NumThreads <= 0 {
			cfg.Diarizer.NumThreads = 2
		}
		if cfg.Diarizer.ClusteringThreshold == 0 {
			cfg.Diarizer.ClusteringThreshold = 0.5
		}
		if cfg.Diarizer.NumClusters == 0 {
			cfg.Diarizer.NumClusters = -1
		}
		if cfg.Diarizer.MinDurationOn == 0 {
			cfg.Diarizer.MinDurationOn = 0.3
		}
		if cfg.Diarizer.MinDurationOff == 0 {
			cfg.Diarizer.MinDurationOff = 0.5
		}
		if cfg.Diarizer.Provider == "" {
			cfg.Diarizer.Provider = "cpu"
		}
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.Harvest.MinSeconds == 0 {
		cfg.Harvest.MinSeconds = 4.0
	}
	if cfg.Harvest.MaxPerSpeaker == 0 {
		cfg.Harvest.MaxPerSpeaker = 5
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 128
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Maintain.CronSpec == "" {
		cfg.Maintain.CronSpec = "0 3 * * *"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	return &cfg, nil
}
