package memory_test

import (
	"testing"

	"github.com/stashkeep/stashkeep/internal/store"
	"github.com/stashkeep/stashkeep/internal/store/testutil"

	_ "github.com/stashkeep/stashkeep/internal/store/memory"
)

func TestMemoryDriver(t *testing.T) {
	testutil.RunDriverTests(t, "memory", &store.DriverConfig{Driver: "memory"})
}
