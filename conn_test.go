package robin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The table is filled in by an init func; every handler must be bound
// and help must stay first so its reply lists the commands in order.
func TestCommandTablePopulated(t *testing.T) {
	require.Len(t, commands, 12)
	assert.Equal(t, "help", commands[0].name)
	assert.Equal(t, "quit", commands[len(commands)-1].name)
	for _, cmd := range commands {
		assert.NotNil(t, cmd.fn, "command %q has no handler", cmd.name)
		assert.NotEmpty(t, cmd.desc, "command %q has no description", cmd.name)
	}
}
