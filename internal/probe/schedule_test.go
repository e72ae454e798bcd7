package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRun_FiveFieldExpression(t *testing.T) {
	from := time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)
	next, err := NextRun("*/5 * * * *", from)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 5, 0, 0, time.UTC), next)
}

func TestNextRun_EveryDescriptor(t *testing.T) {
	from := time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)
	next, err := NextRun("@every 30s", from)
	assert.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Second), next)
}

func TestNextRun_WithSeconds(t *testing.T) {
	from := time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)
	next, err := NextRun("15 * * * * *", from)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 15, 0, time.UTC), next)
}

func TestParseSchedule_Invalid(t *testing.T) {
	_, err := ParseSchedule("")
	assert.Error(t, err)
	_, err = ParseSchedule("61 * * * *")
	assert.Error(t, err)
}
