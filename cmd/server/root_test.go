package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/YannKr/deepscan/internal/testsupport"
)

func TestHashTokenCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hash-token", "s3cret"})
	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestScoreCommandFallback(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CHECKPOINT_DIR", filepath.Join(dir, "outputs"))
	t.Setenv("DEVICE", "cpu")

	path := filepath.Join(dir, "photo.png")
	testsupport.WritePNG(t, path)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"score", path})
	require.NoError(t, cmd.Execute())

	var report map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 0.664, report["score"])
	assert.Equal(t, "SUSPICIOUS", report["riskLevel"])
}

func TestScoreCommandRejectsUnsupported(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"score", "notes.pdf"})
	cmd.SetOut(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}
