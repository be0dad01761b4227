package dialog

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"webp-shrink/internal/saver"

	"github.com/manifoldco/promptui"
)

// SaveMode is what the user wants done with a finished batch.
type SaveMode int

const (
	SaveAllToFolder SaveMode = iota
	SaveEachFile
	SkipSaving
)

var saveModeLabels = []string{
	"Save all to folder",
	"Choose a destination for each file",
	"Don't save",
}

// String returns the menu label of the mode.
func (m SaveMode) String() string {
	if int(m) < len(saveModeLabels) {
		return saveModeLabels[m]
	}
	return "Unknown"
}

// PromptDialog implements saver.Dialog with interactive terminal prompts.
type PromptDialog struct {
	DefaultDirectory string
	Stdin            io.ReadCloser
	Stdout           io.WriteCloser
}

// NewPromptDialog returns a dialog that proposes defaultDir in every prompt.
func NewPromptDialog(defaultDir string) *PromptDialog {
	return &PromptDialog{DefaultDirectory: defaultDir}
}

// ChooseSaveMode asks how the converted files should be saved.
func (d *PromptDialog) ChooseSaveMode(converted int) (SaveMode, error) {
	sel := promptui.Select{
		Label:  fmt.Sprintf("%d file(s) converted", converted),
		Items:  saveModeLabels,
		Stdin:  d.Stdin,
		Stdout: d.Stdout,
	}
	idx, _, err := sel.Run()
	if err != nil {
		return SkipSaving, canceled(err)
	}
	return SaveMode(idx), nil
}

// ChooseSaveDestination asks for the output path of one file.
func (d *PromptDialog) ChooseSaveDestination(suggestedName string) (string, error) {
	prompt := promptui.Prompt{
		Label:     "Save " + suggestedName + " as",
		Default:   filepath.Join(d.DefaultDirectory, suggestedName),
		AllowEdit: true,
		Stdin:     d.Stdin,
		Stdout:    d.Stdout,
	}
	return d.run(prompt)
}

// ChooseSaveDirectory asks for the folder of a save-all.
func (d *PromptDialog) ChooseSaveDirectory() (string, error) {
	def := d.DefaultDirectory
	if def == "" {
		def = "."
	}
	prompt := promptui.Prompt{
		Label:     "Folder to save converted images",
		Default:   def,
		AllowEdit: true,
		Stdin:     d.Stdin,
		Stdout:    d.Stdout,
	}
	return d.run(prompt)
}

func (d *PromptDialog) run(prompt promptui.Prompt) (string, error) {
	answer, err := prompt.Run()
	if err != nil {
		return "", canceled(err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", saver.ErrUserCanceled
	}
	return answer, nil
}

// canceled maps prompt dismissal, including a closed input, onto
// saver.ErrUserCanceled.
func canceled(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) ||
		errors.Is(err, promptui.ErrAbort) || errors.Is(err, io.EOF) {
		return saver.ErrUserCanceled
	}
	return err
}

var _ saver.Dialog = (*PromptDialog)(nil)
