package host

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectNoProbes(t *testing.T) {
	_, err := Select(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestSelectAllProbesFail(t *testing.T) {
	_, err := Select(context.Background(), nil,
		RedisProbe(RedisConfig{}, Options{}, nil),
		LocalProbe("", Options{}, nil),
		Probe{Name: "broken", Open: func(context.Context) (Runtime, error) { return nil, errors.New("boom") }},
	)
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Contains(t, err.Error(), "boom")
}

func TestSelectPrefersFirstMatch(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "profile.db")

	rt, err := Select(context.Background(), nil,
		RedisProbe(RedisConfig{Addr: mr.Addr(), KeyPrefix: "sel"}, Options{}, nil),
		LocalProbe(path, Options{}, nil),
	)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, PrimaryPlatform, rt.Name())
}

func TestSelectFallsBackToLocal(t *testing.T) {
	rt, err := Select(context.Background(), nil,
		RedisProbe(RedisConfig{Addr: "127.0.0.1:1"}, Options{}, nil),
		LocalProbe(filepath.Join(t.TempDir(), "profile.db"), Options{}, nil),
	)
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, SecondaryPlatform, rt.Name())
}
