package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyEngineConfig_Defaults(t *testing.T) {
	cfg := EmptyEngineConfig()

	assert.Equal(t, 0.5, cfg.GetNMSIoUThreshold())
	assert.Equal(t, 0.0, cfg.GetMinDetectionConfidence())
	assert.Equal(t, 0.3, cfg.GetTrackIoUThreshold())
	assert.Equal(t, 3*time.Second, cfg.GetTrackMaxAge())
	assert.Equal(t, 2, cfg.GetEntryMinFrames())
	assert.Equal(t, 5, cfg.GetEntryMaxFrames())
	assert.Equal(t, 0.3, cfg.GetResolverMinScore())
	assert.Equal(t, PolicyPermanent, cfg.GetDedupPolicy())
	assert.Equal(t, 1200*time.Millisecond, cfg.GetProductCooldown())
	assert.Equal(t, 120, cfg.GetClassifierRPM())
	assert.Equal(t, time.Minute, cfg.GetRateWindow())
	assert.Equal(t, 20*time.Second, cfg.GetClassifierTimeout())
	assert.Equal(t, 3, cfg.GetBatchMaxAttempts())
	assert.Equal(t, 500*time.Millisecond, cfg.GetBatchBackoffBase())
	assert.Equal(t, 16, cfg.GetSessionQueueSize())
	assert.Equal(t, 0.6, cfg.GetConfidenceCriticalBelow())
	assert.Equal(t, 0.8, cfg.GetConfidenceWarningBelow())
	assert.Equal(t, 3, cfg.GetAlertCriticalDelta())
	assert.NoError(t, cfg.Validate())
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	require.NotNil(t, cfg)
	require.NotNil(t, cfg.DedupPolicy)
	assert.Equal(t, PolicyPermanent, *cfg.DedupPolicy)
	assert.Equal(t, EmptyEngineConfig().GetProductCooldown(), cfg.GetProductCooldown())
	assert.Equal(t, EmptyEngineConfig().GetClassifierRPM(), cfg.GetClassifierRPM())
}

func TestLoadEngineConfig_Partial(t *testing.T) {
	path := writeConfig(t, "engine.json", `{
  "dedup_policy": "cooldown",
  "product_cooldown": "2s",
  "classifier_rpm": 30
}`)

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, PolicyCooldown, cfg.GetDedupPolicy())
	assert.Equal(t, 2*time.Second, cfg.GetProductCooldown())
	assert.Equal(t, 30, cfg.GetClassifierRPM())
	// unset fields keep their defaults
	assert.Equal(t, 0.5, cfg.GetNMSIoUThreshold())
	assert.Equal(t, 3*time.Second, cfg.GetTrackMaxAge())
}

func TestLoadEngineConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "engine.yaml", `{}`, ".json extension"},
		{"bad json", "engine.json", `{"nms_iou_threshold":`, "parse config JSON"},
		{"threshold out of range", "engine.json", `{"nms_iou_threshold": 1.5}`, "nms_iou_threshold"},
		{"zero nms threshold", "engine.json", `{"nms_iou_threshold": 0}`, "nms_iou_threshold"},
		{"zero resolver score", "engine.json", `{"resolver_min_score": 0}`, "resolver_min_score"},
		{"bad duration", "engine.json", `{"track_max_age": "soon"}`, "track_max_age"},
		{"negative duration", "engine.json", `{"product_cooldown": "-1s"}`, "product_cooldown"},
		{"zero rpm", "engine.json", `{"classifier_rpm": 0}`, "classifier_rpm"},
		{"inverted entry window", "engine.json", `{"entry_min_frames": 6}`, "entry_min_frames"},
		{"inverted confidence bands", "engine.json", `{"confidence_critical_below": 0.9}`, "confidence_critical_below"},
		{"unknown policy", "engine.json", `{"dedup_policy": "sometimes"}`, "dedup_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadEngineConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEngineConfig_MissingAndTooLarge(t *testing.T) {
	_, err := LoadEngineConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)

	big := `{"dedup_policy": "permanent", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "big.json", big)
	_, err = LoadEngineConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
