// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

// Loader loads the template of an operation by ID.
type Loader interface {
	Load(id string) (string, error)
}

// LoaderFunc adapts a function to the [Loader] interface.
type LoaderFunc func(id string) (string, error)

// Load calls f.
func (f LoaderFunc) Load(id string) (string, error) {
	return f(id)
}
