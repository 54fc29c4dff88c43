package docbook

import "errors"

var (
	// ErrParse indicates an unreadable file or malformed XML. It is fatal for the document.
	ErrParse = errors.New("cannot parse document")

	// ErrUnknownPreset indicates options naming a taxonomy preset that doesn't exist.
	ErrUnknownPreset = errors.New("unknown preset")
)
