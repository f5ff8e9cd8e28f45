package cifserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactories(t *testing.T) {
	cause := errors.New("underlying")

	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"NotFound", NotFound("fid miss", nil), KindNotFound},
		{"Exists", Exists("create on present", nil), KindExists},
		{"Permission", Permission("acl deny", cause), KindPermission},
		{"Resource", Resource("bitmap full", nil), KindResource},
		{"Protocol", Protocol("bad word count", nil), KindProtocol},
		{"Transient", Transient("lock conflict", nil), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.True(t, Is(tt.err, tt.kind))
			assert.False(t, Is(tt.err, tt.kind+100))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("enoent")
	err := NotFound("path lookup miss", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "NotFound")
	assert.Contains(t, err.Error(), "enoent")
}

func TestWithContext(t *testing.T) {
	err := NotFound("fid miss", nil).With("fid", uint16(7))

	require.NotNil(t, err.Context)
	assert.Equal(t, uint16(7), err.Context["fid"])
}

func TestIsRejectsPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindNotFound))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "NotFound", KindNotFound.String())
	assert.Equal(t, "Transient", KindTransient.String())
	assert.Contains(t, Kind(99).String(), "Unknown")
}
