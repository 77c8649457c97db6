package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("[sync] dropped %d rows", 3)
	assert.Equal(t, "[sync] dropped 3 rows", got)

	got = ""
	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %d", 1) })
	assert.Empty(t, got)
}

func TestLogfDefault(t *testing.T) {
	assert.NotNil(t, Logf)
}
