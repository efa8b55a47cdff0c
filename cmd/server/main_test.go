package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "drowsiness-server version 1.0.0\n", out)
}

func TestHashTokenCommand(t *testing.T) {
	out, err := execute(t, "hash-token", "fleet-token")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("fleet-token")))

	_, err = execute(t, "hash-token")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"*"}, splitList("*"))
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}

func TestPrintAlert(t *testing.T) {
	var buf bytes.Buffer
	printAlert(&buf, models.DrowsinessAlert{
		ClientID:          "driver-1",
		FrameNumber:       12,
		DrowsinessLevel:   "highly drowsy",
		Confidence:        0.93,
		RecommendedAction: "Pull over",
		Timestamp:         time.Now(),
	})
	line := buf.String()
	assert.Contains(t, line, `client=driver-1 frame=12 level="highly drowsy" confidence=93%`)
	assert.Contains(t, line, `action="Pull over"`)
}
