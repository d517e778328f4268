package certs

import (
	"errors"

	"github.com/ncruces/zenity"
)

type Prompter interface {
	// Confirm returns false without error when the user declines.
	Confirm(title, message string) (bool, error)
}

type DialogPrompter struct{}

func (DialogPrompter) Confirm(title, message string) (bool, error) {
	err := zenity.Question(message,
		zenity.Title(title),
		zenity.OKLabel("Trust Certificate"),
		zenity.CancelLabel("Cancel"),
		zenity.InfoIcon,
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
