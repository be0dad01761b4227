package saver

import "path/filepath"

// FixedDialog answers every prompt with a preset directory. An empty
// Directory behaves like a dismissed dialog.
type FixedDialog struct {
	Directory string
}

// ChooseSaveDestination returns suggestedName inside Directory.
func (d FixedDialog) ChooseSaveDestination(suggestedName string) (string, error) {
	if d.Directory == "" {
		return "", ErrUserCanceled
	}
	return filepath.Join(d.Directory, suggestedName), nil
}

// ChooseSaveDirectory returns Directory.
func (d FixedDialog) ChooseSaveDirectory() (string, error) {
	if d.Directory == "" {
		return "", ErrUserCanceled
	}
	return d.Directory, nil
}
