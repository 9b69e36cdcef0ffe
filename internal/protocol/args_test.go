package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgsAccessors(t *testing.T) {
	args := Args{
		"filename": "board.png",
		"width":    "1024",
		"height":   768.0,
		"ratio":    "0.5",
		"preview":  "true",
	}

	name, err := args.String("filename")
	require.NoError(t, err)
	assert.Equal(t, "board.png", name)

	width, err := args.Int("width", 800)
	require.NoError(t, err)
	assert.Equal(t, 1024, width)

	height, err := args.Int("height", 600)
	require.NoError(t, err)
	assert.Equal(t, 768, height)

	depth, err := args.Int("depth", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	ratio, err := args.Float("ratio", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ratio, 1e-9)

	preview, err := args.Bool("preview", false)
	require.NoError(t, err)
	assert.True(t, preview)

	session, err := args.StringOr("session", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", session)
}

func TestArgsErrors(t *testing.T) {
	args := Args{"width": "wide", "height": 1.5, "filename": 3.0}

	var argErr *ArgumentError

	_, err := args.Int("width", 0)
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "width", argErr.Key)

	_, err = args.Int("height", 0)
	assert.Error(t, err)

	_, err = args.String("filename")
	assert.Error(t, err)

	_, err = args.String("missing")
	assert.Error(t, err)

	err = args.Require("width", "session")
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "session", argErr.Key)

	err = args.Only("width", "height")
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "filename", argErr.Key)

	assert.NoError(t, args.Only("width", "height", "filename"))
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs([]string{"filename=pre.png", "width=1024", "preview=true", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, Args{
		"filename": "pre.png",
		"width":    1024.0,
		"preview":  true,
		"note":     "a=b",
	}, args)

	_, err = ParseArgs([]string{"novalue"})
	assert.Error(t, err)

	_, err = ParseArgs([]string{"command=x"})
	assert.Error(t, err)
}
