package dialog

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"webp-shrink/internal/saver"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyEnter = "\r"
	keyDown  = "\x0e"
)

type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

// scripted returns a dialog that reads the given keystrokes.
func scripted(defaultDir, keys string) *PromptDialog {
	d := NewPromptDialog(defaultDir)
	d.Stdin = io.NopCloser(strings.NewReader(keys))
	d.Stdout = nopWriteCloser{&bytes.Buffer{}}
	return d
}

func TestCanceled(t *testing.T) {
	for _, err := range []error{promptui.ErrInterrupt, promptui.ErrEOF, promptui.ErrAbort, io.EOF} {
		assert.ErrorIs(t, canceled(err), saver.ErrUserCanceled)
	}

	other := errors.New("terminal gone")
	assert.Equal(t, other, canceled(other))
}

func TestSaveModeString(t *testing.T) {
	assert.Equal(t, "Save all to folder", SaveAllToFolder.String())
	assert.Equal(t, "Don't save", SkipSaving.String())
	assert.Equal(t, "Unknown", SaveMode(9).String())
}

func TestChooseSaveMode(t *testing.T) {
	tests := []struct {
		name string
		keys string
		want SaveMode
	}{
		{"first entry", keyEnter, SaveAllToFolder},
		{"second entry", keyDown + keyEnter, SaveEachFile},
		{"third entry", keyDown + keyDown + keyEnter, SkipSaving},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := scripted("/out", tt.keys).ChooseSaveMode(2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestChooseSaveMode_ClosedInput(t *testing.T) {
	mode, err := scripted("/out", "").ChooseSaveMode(2)
	assert.ErrorIs(t, err, saver.ErrUserCanceled)
	assert.Equal(t, SkipSaving, mode)
}

func TestChooseSaveDestination_AcceptsSuggestion(t *testing.T) {
	dest, err := scripted("/out", keyEnter).ChooseSaveDestination("a.webp")
	require.NoError(t, err)
	assert.Equal(t, "/out/a.webp", dest)
}

func TestChooseSaveDestination_ClosedInput(t *testing.T) {
	_, err := scripted("/out", "").ChooseSaveDestination("a.webp")
	assert.ErrorIs(t, err, saver.ErrUserCanceled)
}

func TestChooseSaveDirectory(t *testing.T) {
	dir, err := scripted("/pictures/webp", keyEnter).ChooseSaveDirectory()
	require.NoError(t, err)
	assert.Equal(t, "/pictures/webp", dir)

	dir, err = scripted("", keyEnter).ChooseSaveDirectory()
	require.NoError(t, err)
	assert.Equal(t, ".", dir)
}

func TestChooseSaveDirectory_ClosedInput(t *testing.T) {
	_, err := scripted("/out", "").ChooseSaveDirectory()
	assert.ErrorIs(t, err, saver.ErrUserCanceled)
}
