package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// stubHandler is a minimal Handler for registry tests.
type stubHandler struct {
	kind schema.StepKind
	desc string
}

func (s *stubHandler) Kind() schema.StepKind { return s.kind }
func (s *stubHandler) Description() string   { return s.desc }
func (s *stubHandler) Execute(_ context.Context, _ StepInput) (any, error) {
	return map[string]any{"ok": true}, nil
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{kind: schema.KindDelay, desc: "wait"}))
	assert.Len(t, reg.List(), 1)
	assert.True(t, reg.Has(schema.KindDelay))
	assert.False(t, reg.Has(schema.KindEmailSend))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{kind: schema.KindDelay}))

	err := reg.Register(&stubHandler{kind: schema.KindDelay})
	require.Error(t, err)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeConflict, fe.Code)
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry()
	assert.ErrorIs(t, reg.Register(nil), schema.ErrValidation)
	assert.ErrorIs(t, reg.Register(&stubHandler{kind: "webhook_call"}), schema.ErrValidation)
	assert.Empty(t, reg.List())
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{kind: schema.KindCondition}))

	h, err := reg.Get(schema.KindCondition)
	require.NoError(t, err)
	assert.Equal(t, schema.KindCondition, h.Kind())

	_, err = reg.Get(schema.KindEmailSend)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeHandlerUnavailable, schema.CodeOf(err))
}

func TestRegistry_List_SortedByKind(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, Collaborators{}, Options{}))

	infos := reg.List()
	require.Len(t, infos, len(schema.StepKinds))
	for i := 1; i < len(infos); i++ {
		assert.Less(t, string(infos[i-1].Kind), string(infos[i].Kind))
	}
	for _, info := range infos {
		assert.NotEmpty(t, info.Description)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for _, kind := range schema.StepKinds {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Register(&stubHandler{kind: kind})
		}()
		go func() {
			defer wg.Done()
			_ = reg.Has(kind)
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Len(t, reg.List(), len(schema.StepKinds))
}
