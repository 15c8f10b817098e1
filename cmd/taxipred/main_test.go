package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxipred/config"
	qhttp "taxipred/http"
	"taxipred/pipeline"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "taxipred version "+qhttp.Version)
}

func TestTrainingConfigFromDefaults(t *testing.T) {
	cfg := config.Default()
	tc := trainingConfig(cfg)

	assert.Equal(t, 200, tc.Forest.NEstimators)
	assert.Equal(t, int64(42), tc.Seed)
	assert.Equal(t, 0.2, tc.TestRatio)
	assert.True(t, tc.Forest.Bootstrap)
	assert.Equal(t, 2, tc.Forest.MinSamplesSplit)
	assert.Equal(t, cfg.Predictor.ModelPath, tc.ModelPath)
	assert.Equal(t, cfg.Data.Path, tc.DataPath)
	assert.Empty(t, tc.Cleaning.Rules)
}

func TestTrainingConfigMapsRules(t *testing.T) {
	cfg := config.Default()
	cfg.Cleaning.Rules = []config.RuleConfig{{Name: "short", Expression: "Trip_Distance_km < 100.0"}}
	cfg.Training.MaxDepth = 12

	tc := trainingConfig(cfg)
	assert.Equal(t, []pipeline.RuleSpec{{Name: "short", Expression: "Trip_Distance_km < 100.0"}}, tc.Cleaning.Rules)
	assert.Equal(t, 12, tc.Forest.MaxDepth)
}

// trainingFixture writes a small linear dataset and a config that keeps training fast.
func trainingFixture(t *testing.T) (dataPath, configPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath = filepath.Join(dir, "trips.csv")

	var csv bytes.Buffer
	csv.WriteString("Trip_Distance_km,Trip_Duration_Minutes,Passenger_Count,Base_Fare,Per_Km_Rate,Per_Minute_Rate,Trip_Price\n")
	for i := 1; i <= 60; i++ {
		d := float64(i)
		csv.WriteString(formatRow(d, 2*d, 1+i%4, 3, 1.5, 0.3, 3+1.5*d+0.6*d))
	}
	require.NoError(t, os.WriteFile(dataPath, csv.Bytes(), 0o644))

	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
training:
  test_ratio: 0.2
  seed: 42
  n_estimators: 10
database:
  path: ""
log:
  level: error
`), 0o644))
	return dataPath, configPath
}

func TestTrainCommand(t *testing.T) {
	dataPath, configPath := trainingFixture(t)
	modelPath := filepath.Join(t.TempDir(), "models", "forest.model")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"train", "--config", configPath, "--data", dataPath, "--model", modelPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "MAE: ")
	assert.Contains(t, out.String(), "R2 score: ")
	assert.Contains(t, out.String(), "Model saved to: "+modelPath)
	assert.FileExists(t, modelPath)
}

// captureStdout points os.Stdout at a temp file while fn runs and returns what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "stdout"))
	require.NoError(t, err)
	defer f.Close()

	orig := os.Stdout
	os.Stdout = f
	defer func() { os.Stdout = orig }()

	fn()

	payload, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return string(payload)
}

func TestTrainCommandKeepsLogsOffStdout(t *testing.T) {
	dataPath, configPath := trainingFixture(t)

	t.Run("json", func(t *testing.T) {
		modelPath := filepath.Join(t.TempDir(), "forest.model")
		stdout := captureStdout(t, func() {
			cmd := rootCmd()
			cmd.SetArgs([]string{"train", "--config", configPath, "--data", dataPath,
				"--model", modelPath, "--log-level", "info", "--json"})
			require.NoError(t, cmd.Execute())
		})

		dec := json.NewDecoder(strings.NewReader(stdout))
		var result map[string]any
		require.NoError(t, dec.Decode(&result), stdout)
		assert.False(t, dec.More(), "stdout holds more than the result: %s", stdout)
		assert.Equal(t, modelPath, result["model_path"])
		assert.Contains(t, result, "mae")
		assert.NotContains(t, stdout, `"msg"`)
	})

	t.Run("plain", func(t *testing.T) {
		modelPath := filepath.Join(t.TempDir(), "forest.model")
		stdout := captureStdout(t, func() {
			cmd := rootCmd()
			cmd.SetArgs([]string{"train", "--config", configPath, "--data", dataPath,
				"--model", modelPath, "--log-level", "info"})
			require.NoError(t, cmd.Execute())
		})

		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 3, stdout)
		assert.True(t, strings.HasPrefix(lines[0], "MAE: "))
		assert.True(t, strings.HasPrefix(lines[1], "R2 score: "))
		assert.Equal(t, "Model saved to: "+modelPath, lines[2])
	})
}

func TestTrainCommandMissingData(t *testing.T) {
	dir := t.TempDir()
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"train",
		"--config", filepath.Join(dir, "absent.yaml"),
		"--data", filepath.Join(dir, "absent.csv"),
		"--model", filepath.Join(dir, "m.model"),
		"--log-level", "error",
	})
	assert.Error(t, cmd.Execute())
}

func formatRow(values ...any) string {
	var b bytes.Buffer
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		switch x := v.(type) {
		case int:
			b.WriteString(strconv.Itoa(x))
		case float64:
			b.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
		}
	}
	b.WriteByte('\n')
	return b.String()
}
