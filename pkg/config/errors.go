package config

import "fmt"

// Error reports a configuration problem tied to a specific file and field.
// Load* functions return this (never partial, silently-defaulted configs)
// whenever a required field is missing or a value violates an invariant.
type Error struct {
	File   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.File, e.Detail)
}

func errf(file, format string, args ...interface{}) error {
	return &Error{File: file, Detail: fmt.Sprintf(format, args...)}
}
