package usecase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEngine         = errors.New("engine error")
	ErrRepository     = errors.New("repository error")
	ErrFetchTimeout   = errors.New("torrent fetch timed out")
	ErrNoPlayableFile = errors.New("no suitable movie file was found in the torrent")
)

// UnsupportedFormatError reports a movie file the player cannot consume.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported video format %q", strings.ToUpper(e.Ext))
}

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}
