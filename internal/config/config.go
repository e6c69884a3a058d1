package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tabletrack/tracker/pkg/core"
)

// IDRange is an inclusive marker-ID interval mapped to a category.
type IDRange struct {
	Low  int
	High int
}

// Contains reports whether id falls inside the range.
func (r IDRange) Contains(id int) bool {
	return id >= r.Low && id <= r.High
}

func (r IDRange) overlaps(o IDRange) bool {
	return r.Low <= o.High && o.Low <= r.High
}

// MarkerConfig holds the reserved corner IDs and the category ranges.
type MarkerConfig struct {
	// CornerIDs maps each surface corner to its reserved marker ID, in
	// TL, TR, BR, BL order.
	CornerIDs   [4]int
	PlayerRange IDRange
	ItemRange   IDRange
}

// IsCorner reports whether id is one of the reserved corner markers.
func (m MarkerConfig) IsCorner(id int) bool {
	for _, c := range m.CornerIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Categorize derives a marker's category from ID-range membership.
func (m MarkerConfig) Categorize(id int) core.Category {
	switch {
	case m.IsCorner(id):
		return core.CategoryCorner
	case m.PlayerRange.Contains(id):
		return core.CategoryPlayer
	case m.ItemRange.Contains(id):
		return core.CategoryItem
	default:
		return core.CategoryCustom
	}
}

// Validate checks the marker schema for conflicts. Overlapping category
// ranges and duplicate or range-shadowed corner IDs are configuration
// errors.
func (m MarkerConfig) Validate() error {
	if m.PlayerRange.overlaps(m.ItemRange) {
		return fmt.Errorf("player range [%d,%d] overlaps item range [%d,%d]",
			m.PlayerRange.Low, m.PlayerRange.High, m.ItemRange.Low, m.ItemRange.High)
	}
	seen := make(map[int]bool, 4)
	for _, id := range m.CornerIDs {
		if seen[id] {
			return fmt.Errorf("duplicate corner marker ID %d", id)
		}
		seen[id] = true
		if m.PlayerRange.Contains(id) || m.ItemRange.Contains(id) {
			return fmt.Errorf("corner marker ID %d falls inside a category range", id)
		}
	}
	return nil
}

// SceneConfig identifies the remote scene and its coordinate space.
type SceneConfig struct {
	ID     string
	Width  int
	Height int
}

// RemoteConfig holds the remote session endpoints.
type RemoteConfig struct {
	BaseURL string
	WsURL   string
	APIKey  string
}

// TrackingConfig holds the steady-state loop tunables.
type TrackingConfig struct {
	SurfaceWidth   float64
	SurfaceHeight  float64
	TokenTimeout   time.Duration
	UpdateInterval time.Duration
	AreaNorm       float64
}

// SnapshotConfig holds the durable snapshot settings.
type SnapshotConfig struct {
	Enabled bool
	Path    string
}

// StorageConfig selects the session history backend.
type StorageConfig struct {
	Type       string // "sqlite", "postgres" or "none"
	SqlitePath string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from a JSON file in configDir and sets default
// values. Call GetMarkerConfig afterwards to validate the marker schema.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./tracklogs")

	viper.SetDefault("scene.id", "")
	viper.SetDefault("scene.width", 4000)
	viper.SetDefault("scene.height", 3000)

	viper.SetDefault("remote.baseUrl", "http://localhost:30000")
	viper.SetDefault("remote.wsUrl", "ws://localhost:30001")
	viper.SetDefault("remote.apiKey", "")

	viper.SetDefault("surface.width", 1000)
	viper.SetDefault("surface.height", 1000)

	viper.SetDefault("tracking.tokenTimeoutMs", 2500)
	viper.SetDefault("tracking.updateIntervalMs", 100)
	viper.SetDefault("tracking.areaNorm", 10000.0)

	viper.SetDefault("markers.cornerTL", 0)
	viper.SetDefault("markers.cornerTR", 1)
	viper.SetDefault("markers.cornerBR", 2)
	viper.SetDefault("markers.cornerBL", 3)
	viper.SetDefault("markers.playerRange", []int{10, 25})
	viper.SetDefault("markers.itemRange", []int{30, 61})

	viper.SetDefault("snapshot.enabled", true)
	viper.SetDefault("snapshot.path", "./track_token_data.json")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.sqlitePath", "./tabletrack.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "tabletrack")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "tabletrack-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "tabletrack")
	viper.SetDefault("otel.batchTimeoutSec", 5)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)

	viper.SetConfigName("tabletrack.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func rangeFromKey(key string) (IDRange, error) {
	vals := viper.GetIntSlice(key)
	if len(vals) != 2 {
		return IDRange{}, fmt.Errorf("%s: expected [low, high], got %v", key, vals)
	}
	if vals[0] > vals[1] {
		return IDRange{}, fmt.Errorf("%s: low %d > high %d", key, vals[0], vals[1])
	}
	return IDRange{Low: vals[0], High: vals[1]}, nil
}

// GetMarkerConfig returns the validated marker schema.
func GetMarkerConfig() (MarkerConfig, error) {
	playerRange, err := rangeFromKey("markers.playerRange")
	if err != nil {
		return MarkerConfig{}, err
	}
	itemRange, err := rangeFromKey("markers.itemRange")
	if err != nil {
		return MarkerConfig{}, err
	}
	m := MarkerConfig{
		CornerIDs: [4]int{
			viper.GetInt("markers.cornerTL"),
			viper.GetInt("markers.cornerTR"),
			viper.GetInt("markers.cornerBR"),
			viper.GetInt("markers.cornerBL"),
		},
		PlayerRange: playerRange,
		ItemRange:   itemRange,
	}
	return m, m.Validate()
}

// GetSceneConfig returns the remote scene settings.
func GetSceneConfig() SceneConfig {
	return SceneConfig{
		ID:     viper.GetString("scene.id"),
		Width:  viper.GetInt("scene.width"),
		Height: viper.GetInt("scene.height"),
	}
}

// GetRemoteConfig returns the remote endpoint settings.
func GetRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL: viper.GetString("remote.baseUrl"),
		WsURL:   viper.GetString("remote.wsUrl"),
		APIKey:  viper.GetString("remote.apiKey"),
	}
}

// GetTrackingConfig returns the loop tunables.
func GetTrackingConfig() TrackingConfig {
	return TrackingConfig{
		SurfaceWidth:   viper.GetFloat64("surface.width"),
		SurfaceHeight:  viper.GetFloat64("surface.height"),
		TokenTimeout:   time.Duration(viper.GetInt("tracking.tokenTimeoutMs")) * time.Millisecond,
		UpdateInterval: time.Duration(viper.GetInt("tracking.updateIntervalMs")) * time.Millisecond,
		AreaNorm:       viper.GetFloat64("tracking.areaNorm"),
	}
}

// GetSnapshotConfig returns the snapshot file settings.
func GetSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Enabled: viper.GetBool("snapshot.enabled"),
		Path:    viper.GetString("snapshot.path"),
	}
}

// GetStorageConfig returns the session history backend selection.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:       viper.GetString("storage.type"),
		SqlitePath: viper.GetString("storage.sqlitePath"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: time.Duration(viper.GetInt("otel.batchTimeoutSec")) * time.Second,
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
