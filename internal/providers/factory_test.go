package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/core"
)

func TestFactory_Create(t *testing.T) {
	f := testFactory()

	a, err := f.Create(fakeClient("alpha", "http://x", "m1"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", a.Name())
	assert.Equal(t, "fake", a.Type())

	_, err = f.Create(config.ProviderConfig{Type: "gemini"})
	require.Error(t, err)
	assert.True(t, core.IsType(err, core.ErrorTypeUnknownProvider))
	assert.Contains(t, err.Error(), "gemini")
}

func TestFactory_Types(t *testing.T) {
	f := NewFactory()
	assert.Empty(t, f.Types())

	f.Add(discoveringRegistration, fakeRegistration)
	assert.Equal(t, []string{"fake", "fake-discovering"}, f.Types())
}

func TestFactory_LaterRegistrationWins(t *testing.T) {
	replacement := Registration{
		Type: "fake",
		New: func(cfg config.ProviderConfig) (Adapter, error) {
			return &fakeAdapter{name: "replaced"}, nil
		},
	}
	f := NewFactory(fakeRegistration, replacement)

	a, err := f.Create(fakeClient("alpha", "http://x"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", a.Name())
}
