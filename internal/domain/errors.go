package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrInvalidIdentifier = errors.New("invalid torrent identifier")
var ErrNoExtension = errors.New("file has no extension")
