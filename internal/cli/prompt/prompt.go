// Package prompt provides interactive terminal prompts for nvmfctl's
// wizard-style commands. Adapted from the internal/cli/prompt
// package, trimmed to the subset nvmfctl's subsystem/namespace creation
// wizard needs (no password prompt: there is no authentication surface in
// this target).
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt with Ctrl+C. An "n"
// answer to a confirm is not an abort: Confirm returns false with no error.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err indicates the user aborted the prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// InputRequired prompts for required text input.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if input == "" {
				return fmt.Errorf("required")
			}
			return nil
		},
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// Input prompts for text input, returning defaultValue on an empty answer.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputUint prompts for an unsigned integer with a default.
func InputUint(label string, defaultValue uint64) (uint64, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: strconv.FormatUint(defaultValue, 10),
		Validate: func(input string) error {
			_, err := strconv.ParseUint(input, 10, 64)
			if err != nil {
				return fmt.Errorf("must be a non-negative integer")
			}
			return nil
		},
	}
	result, err := p.Run()
	if err != nil {
		return 0, wrapError(err)
	}
	value, _ := strconv.ParseUint(result, 10, 64)
	return value, nil
}

// Confirm prompts for yes/no confirmation, defaulting to defaultYes on an
// empty answer.
func Confirm(label string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}
	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, defaultStr),
		IsConfirm: true,
	}
	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		if errors.Is(err, promptui.ErrAbort) {
			if result == "" {
				return defaultYes, nil
			}
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SelectString prompts the user to choose from a fixed list of strings.
func SelectString(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items, Size: len(items)}
	_, result, err := p.Run()
	return result, wrapError(err)
}
