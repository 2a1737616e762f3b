package adapter

import (
	"testing"

	"github.com/digitraceslab/koota/internal/converter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct{ tag string }

func (fakeAdapter) Converters() []converter.Descriptor { return nil }

func TestLookupPrecedence(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fakeAdapter{"aware"}, Registration{
		Name:    "aware",
		Aliases: []string{"Android", "AwareDevice"},
		Default: true,
	}))

	e, ok := r.Lookup("aware")
	assert.True(t, ok)
	assert.Equal(t, "aware", e.Name)

	e, ok = r.Lookup("Android")
	assert.True(t, ok)
	assert.Equal(t, "aware", e.Name)

	e, ok = r.Lookup("koota.devices.aware.AwareDevice")
	assert.True(t, ok)
	assert.Equal(t, "aware", e.Name)

	e, ok = r.Lookup("no.such.Thing")
	assert.False(t, ok)
	assert.Equal(t, GenericName, e.Name)
	assert.Len(t, e.Adapter.Converters(), 2)

	e, ok = r.Lookup("")
	assert.False(t, ok)
	assert.Equal(t, GenericName, e.Name)
}

func TestRegisterReplacesSameName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fakeAdapter{"v1"}, Registration{Name: "x", Aliases: []string{"old"}}))
	require.NoError(t, r.Register(fakeAdapter{"v2"}, Registration{Name: "x", Aliases: []string{"new"}}))

	e, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, fakeAdapter{"v2"}, e.Adapter)

	_, ok = r.Lookup("old")
	assert.False(t, ok)
	_, ok = r.Lookup("new")
	assert.True(t, ok)
	assert.Len(t, r.Entries(), 2)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register(fakeAdapter{}, Registration{}), ErrInvalidRegistration)
	assert.ErrorIs(t, r.Register(nil, Registration{Name: "x"}), ErrInvalidRegistration)
}

func TestChoices(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fakeAdapter{}, Registration{Name: "b", Description: "Beta", Default: true}))
	require.NoError(t, r.Register(fakeAdapter{}, Registration{Name: "a", Description: "Alpha", Model: ModelOAuth}))

	assert.Equal(t, []Choice{{Name: "b", Description: "Beta"}}, r.DefaultChoices())
	all := r.AllChoices()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, []string{"a"}, r.NamesByModel(ModelOAuth))
}
