package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"main", "work-2", "alice_phone", "0", strings.Repeat("z", 64)} {
		assert.NoError(t, ValidateName(name), name)
	}

	for _, name := range []string{"", "Main", "two words", "../main", "a.b", "é", strings.Repeat("z", 65)} {
		err := ValidateName(name)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrInvalidName)
		assert.Contains(t, err.Error(), name)
	}
}
