package app

import "errors"

// Sentinel errors the HTTP layer maps to status codes. Handlers compare
// with errors.Is so app methods may wrap these with context.
var (
	ErrDuplicateName      = errors.New("a document with that name already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("document not found")
	ErrUnsupportedType    = errors.New("only plain-text documents can be read inline")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
