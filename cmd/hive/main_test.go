package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = "../../graph/config/testdata/hive.yaml"

func hive(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExecute_Usage(t *testing.T) {
	code, _, stderr := hive(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: hive")

	code, _, stderr = hive(t, "deploy")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "deploy"`)

	code, stdout, _ := hive(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "commands:")

	code, _, _ = hive(t, "run", "-bogus")
	assert.Equal(t, 2, code)

	code, _, _ = hive(t, "validate", "-h")
	assert.Equal(t, 0, code)
}

func TestValidate(t *testing.T) {
	code, stdout, stderr := hive(t, "validate", "-env=", "-config", testConfig)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "4 agents, 3 workflows")
	assert.Contains(t, stdout, "poem_pipeline: entries [writer], terminals [editor]")
	assert.Contains(t, stdout, "feedback: entries [writer], terminals [editor]")
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  a:
    llm_config: {provider: mock}
workflows:
  w:
    nodes: [{name: a, agent: ghost}]
`), 0o600))

	code, _, stderr := hive(t, "validate", "-env=", "-config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "ghost")
}

func TestRun(t *testing.T) {
	code, stdout, stderr := hive(t, "run", "-env=", "-config", testConfig, "-workflow", "poem_pipeline", "autumn", "leaves")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "---------- writer ----------")
	assert.Contains(t, stdout, "Leaves drift down in amber light.")
	assert.Contains(t, stdout, "Amber leaves drift down.")
	assert.Contains(t, stdout, "Status: completed")
}

func TestRun_PersistsToStore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "hive.db")
	code, _, stderr := hive(t, "run", "-env=", "-config", testConfig, "-workflow", "poem_pipeline",
		"-store", "sqlite:"+db, "-run-id", "cli-1", "autumn")
	require.Equal(t, 0, code, stderr)

	info, err := os.Stat(db)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	code, _, stderr = hive(t, "run", "-env=", "-config", testConfig, "-workflow", "poem_pipeline",
		"-store", "sqlite:"+db, "-run-id", "cli-1", "winter")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "duplicate run ID")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"missing task", []string{"-workflow", "poem_pipeline"}, 2, "a task is required"},
		{"ambiguous workflow", []string{"go"}, 1, "-workflow is required"},
		{"unknown workflow", []string{"-workflow", "nope", "go"}, 1, `unknown workflow "nope"`},
		{"bad log format", []string{"-log-format", "xml", "go"}, 1, "invalid -log-format"},
		{"bad store", []string{"-workflow", "poem_pipeline", "-store", "redis://x", "go"}, 1, "unsupported store dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "-env=", "-config", testConfig}, tt.args...)
			code, _, stderr := hive(t, args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HIVE_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("HIVE_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("HIVE_TEST_VALUE"))

	c := common{envFile: path}
	require.NoError(t, c.loadEnv())
	assert.Equal(t, "from-file", os.Getenv("HIVE_TEST_VALUE"))

	c.envFile = filepath.Join(t.TempDir(), "missing.env")
	assert.NoError(t, c.loadEnv())
}
