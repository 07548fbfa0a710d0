//go:build !tensorflow

package verify

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestGraphWithoutRuntime(t *testing.T) {
	_, err := Graph(frozenGraph(t), 5)
	assert.True(t, errors.Is(err, ErrNoRuntime))
}
