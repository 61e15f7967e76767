package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects printer output for the duration of the test.
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	prevOut, prevErr, prevNoColor := Out, ErrOut, color.NoColor
	var out, errOut bytes.Buffer
	Out, ErrOut, color.NoColor = &out, &errOut, true
	t.Cleanup(func() {
		Out, ErrOut, color.NoColor = prevOut, prevErr, prevNoColor
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", nil)
		require.Error(t, err)
		assert.Equal(t, "Test Error", err.Error())
		assert.Equal(t, "Test Error\n\nThis is a test error\n", errOut.String())
	})

	t.Run("single suggestion is printed as is", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		assert.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		Error("Test Error", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Run failed", "", map[string]string{
		"Job":    "images",
		"Forum":  "https://forum.example.com",
		"Run ID": "abc",
	}, nil)

	assert.Equal(t, "Run failed", err.Error())
	assert.Equal(t, "Run failed\n\n\n  Forum: https://forum.example.com\n  Job: images\n  Run ID: abc\n", errOut.String())
}

func TestStatusLines(t *testing.T) {
	out, _ := capture(t)

	Success("created %d topics\n", 3)
	Success("✓ already prefixed\n")
	Warning("partial listing\n")
	Step("walking pages\n")
	Info("plain %s\n", "text")

	assert.Equal(t, "✓ created 3 topics\n✓ already prefixed\n⚠️  partial listing\n→ walking pages\nplain text\n", out.String())
}
