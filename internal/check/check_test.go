package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	assert.NotPanics(t, func() { Check(true, "unused") })
	assert.PanicsWithError(t, "invariant violated: top 8 > limit 4", func() {
		Check(false, "top %d > limit %d", 8, 4)
	})
}

func TestDCheck_Gated(t *testing.T) {
	saved := SlowChecks
	t.Cleanup(func() { SlowChecks = saved })

	SlowChecks = false
	assert.NotPanics(t, func() { DCheck(false, "ignored") })

	SlowChecks = true
	assert.Panics(t, func() { DCheck(false, "enforced") })
}
