package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
const DefaultConfigPath = "config/engine.defaults.json"

// Dedup policies accepted by dedup_policy.
const (
	PolicyPermanent = "permanent"
	PolicyCooldown  = "cooldown"
)

// EngineConfig holds the tunable parameters of the detection engine. Every
// field is optional; the Get* accessors supply defaults for unset fields so
// partial files are safe.
type EngineConfig struct {
	// Frame de-duplication and filtering
	NMSIoUThreshold        *float64 `json:"nms_iou_threshold,omitempty"`
	MinDetectionConfidence *float64 `json:"min_detection_confidence,omitempty"`

	// Tracker
	TrackIoUThreshold *float64 `json:"track_iou_threshold,omitempty"`
	TrackMaxAge       *string  `json:"track_max_age,omitempty"` // duration string like "3s"
	EntryMinFrames    *int     `json:"entry_min_frames,omitempty"`
	EntryMaxFrames    *int     `json:"entry_max_frames,omitempty"`

	// Resolver
	ResolverMinScore *float64 `json:"resolver_min_score,omitempty"`

	// Ledger
	DedupPolicy     *string `json:"dedup_policy,omitempty"`
	ProductCooldown *string `json:"product_cooldown,omitempty"`

	// Upstream classifier
	ClassifierRPM     *int    `json:"classifier_rpm,omitempty"`
	RateWindow        *string `json:"rate_window,omitempty"`
	ClassifierTimeout *string `json:"classifier_timeout,omitempty"`
	BatchMaxAttempts  *int    `json:"batch_max_attempts,omitempty"`
	BatchBackoffBase  *string `json:"batch_backoff_base,omitempty"`

	// Sessions
	SessionQueueSize *int `json:"session_queue_size,omitempty"`

	// Alerting
	ConfidenceCriticalBelow *float64 `json:"confidence_critical_below,omitempty"`
	ConfidenceWarningBelow  *float64 `json:"confidence_warning_below,omitempty"`
	AlertCriticalDelta      *int     `json:"alert_critical_delta,omitempty"`
}

// EmptyEngineConfig returns an EngineConfig with all fields unset.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents up to the repo root.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *EngineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadEngineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkUnit(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func checkPositiveUnit(name string, v *float64) error {
	if v != nil && (*v <= 0 || *v > 1) {
		return fmt.Errorf("%s must be in (0, 1], got %f", name, *v)
	}
	return nil
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

func checkPositive(name string, v *int) error {
	if v != nil && *v < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", name, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *EngineConfig) Validate() error {
	for name, v := range map[string]*float64{
		"min_detection_confidence":  c.MinDetectionConfidence,
		"track_iou_threshold":       c.TrackIoUThreshold,
		"confidence_critical_below": c.ConfidenceCriticalBelow,
		"confidence_warning_below":  c.ConfidenceWarningBelow,
	} {
		if err := checkUnit(name, v); err != nil {
			return err
		}
	}
	// A zero IoU threshold would suppress disjoint boxes, and a zero score
	// would accept any catalog entry.
	for name, v := range map[string]*float64{
		"nms_iou_threshold":  c.NMSIoUThreshold,
		"resolver_min_score": c.ResolverMinScore,
	} {
		if err := checkPositiveUnit(name, v); err != nil {
			return err
		}
	}

	for name, v := range map[string]*string{
		"track_max_age":      c.TrackMaxAge,
		"product_cooldown":   c.ProductCooldown,
		"rate_window":        c.RateWindow,
		"classifier_timeout": c.ClassifierTimeout,
		"batch_backoff_base": c.BatchBackoffBase,
	} {
		if err := checkDuration(name, v); err != nil {
			return err
		}
	}

	for name, v := range map[string]*int{
		"entry_min_frames":     c.EntryMinFrames,
		"entry_max_frames":     c.EntryMaxFrames,
		"classifier_rpm":       c.ClassifierRPM,
		"batch_max_attempts":   c.BatchMaxAttempts,
		"session_queue_size":   c.SessionQueueSize,
		"alert_critical_delta": c.AlertCriticalDelta,
	} {
		if err := checkPositive(name, v); err != nil {
			return err
		}
	}

	if c.GetEntryMinFrames() > c.GetEntryMaxFrames() {
		return fmt.Errorf("entry_min_frames (%d) must not exceed entry_max_frames (%d)",
			c.GetEntryMinFrames(), c.GetEntryMaxFrames())
	}

	if c.GetConfidenceCriticalBelow() > c.GetConfidenceWarningBelow() {
		return fmt.Errorf("confidence_critical_below (%f) must not exceed confidence_warning_below (%f)",
			c.GetConfidenceCriticalBelow(), c.GetConfidenceWarningBelow())
	}

	if c.DedupPolicy != nil {
		switch *c.DedupPolicy {
		case PolicyPermanent, PolicyCooldown:
		default:
			return fmt.Errorf("dedup_policy must be %q or %q, got %q", PolicyPermanent, PolicyCooldown, *c.DedupPolicy)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetNMSIoUThreshold returns the nms_iou_threshold value or the default.
func (c *EngineConfig) GetNMSIoUThreshold() float64 {
	if c.NMSIoUThreshold == nil {
		return 0.5
	}
	return *c.NMSIoUThreshold
}

// GetMinDetectionConfidence returns the min_detection_confidence value or the default.
func (c *EngineConfig) GetMinDetectionConfidence() float64 {
	if c.MinDetectionConfidence == nil {
		return 0
	}
	return *c.MinDetectionConfidence
}

// GetTrackIoUThreshold returns the track_iou_threshold value or the default.
func (c *EngineConfig) GetTrackIoUThreshold() float64 {
	if c.TrackIoUThreshold == nil {
		return 0.3
	}
	return *c.TrackIoUThreshold
}

// GetTrackMaxAge parses and returns the TrackMaxAge as a time.Duration.
func (c *EngineConfig) GetTrackMaxAge() time.Duration {
	return durationOr(c.TrackMaxAge, 3*time.Second)
}

// GetEntryMinFrames returns the entry_min_frames value or the default.
func (c *EngineConfig) GetEntryMinFrames() int {
	if c.EntryMinFrames == nil {
		return 2
	}
	return *c.EntryMinFrames
}

// GetEntryMaxFrames returns the entry_max_frames value or the default.
func (c *EngineConfig) GetEntryMaxFrames() int {
	if c.EntryMaxFrames == nil {
		return 5
	}
	return *c.EntryMaxFrames
}

// GetResolverMinScore returns the resolver_min_score value or the default.
func (c *EngineConfig) GetResolverMinScore() float64 {
	if c.ResolverMinScore == nil {
		return 0.3
	}
	return *c.ResolverMinScore
}

// GetDedupPolicy returns the dedup_policy value or the default.
func (c *EngineConfig) GetDedupPolicy() string {
	if c.DedupPolicy == nil || *c.DedupPolicy == "" {
		return PolicyPermanent
	}
	return *c.DedupPolicy
}

// GetProductCooldown parses and returns the ProductCooldown as a time.Duration.
func (c *EngineConfig) GetProductCooldown() time.Duration {
	return durationOr(c.ProductCooldown, 1200*time.Millisecond)
}

// GetClassifierRPM returns the classifier_rpm value or the default.
func (c *EngineConfig) GetClassifierRPM() int {
	if c.ClassifierRPM == nil {
		return 120
	}
	return *c.ClassifierRPM
}

// GetRateWindow parses and returns the RateWindow as a time.Duration.
func (c *EngineConfig) GetRateWindow() time.Duration {
	return durationOr(c.RateWindow, 60*time.Second)
}

// GetClassifierTimeout parses and returns the ClassifierTimeout as a time.Duration.
func (c *EngineConfig) GetClassifierTimeout() time.Duration {
	return durationOr(c.ClassifierTimeout, 20*time.Second)
}

// GetBatchMaxAttempts returns the batch_max_attempts value or the default.
func (c *EngineConfig) GetBatchMaxAttempts() int {
	if c.BatchMaxAttempts == nil {
		return 3
	}
	return *c.BatchMaxAttempts
}

// GetBatchBackoffBase parses and returns the BatchBackoffBase as a time.Duration.
func (c *EngineConfig) GetBatchBackoffBase() time.Duration {
	return durationOr(c.BatchBackoffBase, 500*time.Millisecond)
}

// GetSessionQueueSize returns the session_queue_size value or the default.
func (c *EngineConfig) GetSessionQueueSize() int {
	if c.SessionQueueSize == nil {
		return 16
	}
	return *c.SessionQueueSize
}

// GetConfidenceCriticalBelow returns the confidence_critical_below value or the default.
func (c *EngineConfig) GetConfidenceCriticalBelow() float64 {
	if c.ConfidenceCriticalBelow == nil {
		return 0.60
	}
	return *c.ConfidenceCriticalBelow
}

// GetConfidenceWarningBelow returns the confidence_warning_below value or the default.
func (c *EngineConfig) GetConfidenceWarningBelow() float64 {
	if c.ConfidenceWarningBelow == nil {
		return 0.80
	}
	return *c.ConfidenceWarningBelow
}

// GetAlertCriticalDelta returns the alert_critical_delta value or the default.
func (c *EngineConfig) GetAlertCriticalDelta() int {
	if c.AlertCriticalDelta == nil {
		return 3
	}
	return *c.AlertCriticalDelta
}
