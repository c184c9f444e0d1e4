package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Kite", func(deps Deps, userID string) Adapter { return &fakeAdapter{} })

	// 大小写不敏感
	ad, err := reg.New("kite", Deps{}, "user1")
	require.NoError(t, err)
	assert.NotNil(t, ad)

	_, err = reg.New("zerodha", Deps{}, "user1")
	assert.ErrorIs(t, err, ErrUnknownBroker)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("kite", func(deps Deps, userID string) Adapter { return &fakeAdapter{} })
	assert.Panics(t, func() {
		reg.Register("KITE", func(deps Deps, userID string) Adapter { return &fakeAdapter{} })
	})
}

func TestRegistryBrokersSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("kite", func(deps Deps, userID string) Adapter { return &fakeAdapter{} })
	reg.Register("angel", func(deps Deps, userID string) Adapter { return &fakeAdapter{} })
	assert.Equal(t, []string{"angel", "kite"}, reg.Brokers())
}
