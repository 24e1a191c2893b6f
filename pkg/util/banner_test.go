package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "agent", "ColorBlue", "driver=memory", "plugins=7")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], ColorBlue))
	assert.True(t, strings.HasSuffix(lines[0], ColorReset))
	assert.Equal(t, "driver=memory  plugins=7", lines[len(lines)-1])
}

func TestUnknownColorFallsBackToReset(t *testing.T) {
	assert.Equal(t, ColorReset, colorCode("ColorPurple"))
}
