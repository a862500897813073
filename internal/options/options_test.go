package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type readerConfig struct {
	live   bool
	window int
}

var errWindow = errors.New("window must be positive")

func withLive(live bool) Option[*readerConfig] {
	return NoError(func(c *readerConfig) { c.live = live })
}

func withWindow(n int) Option[*readerConfig] {
	return New(func(c *readerConfig) error {
		if n <= 0 {
			return errWindow
		}
		c.window = n

		return nil
	})
}

func TestApply(t *testing.T) {
	cfg := &readerConfig{}
	err := Apply(cfg, withLive(true), withWindow(4096))
	require.NoError(t, err)
	require.True(t, cfg.live)
	require.Equal(t, 4096, cfg.window)
}

func TestApply_StopsOnError(t *testing.T) {
	cfg := &readerConfig{}
	err := Apply(cfg, withWindow(0), withLive(true))
	require.ErrorIs(t, err, errWindow)
	require.False(t, cfg.live, "options after the failing one must not run")
}

func TestApply_SkipsNil(t *testing.T) {
	cfg := &readerConfig{}
	require.NoError(t, Apply[*readerConfig](cfg, nil, withLive(true)))
	require.True(t, cfg.live)
}
