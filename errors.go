// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlaccess

import (
	"database/sql"
	"errors"

	"github.com/canonical/sqlaccess/internal/failure"
)

// The errors returned when a statement cannot be prepared or a result cannot
// be read. Use errors.As to inspect them.
type (
	// TokenizeError reports template text that cannot be lexed.
	TokenizeError = failure.TokenizeError
	// TemplateError reports unbalanced code fragments, conditions that do
	// not compile and unknown helpers.
	TemplateError = failure.TemplateError
	// ResolutionError reports a bind point that cannot be resolved.
	ResolutionError = failure.ResolutionError
	// MappingError reports a result shape that cannot be built from the
	// columns of a result set.
	MappingError = failure.MappingError
	// ConversionError reports a column value that cannot be converted to
	// its member.
	ConversionError = failure.ConversionError
)

var ErrNoRows = sql.ErrNoRows
var ErrTXDone = sql.ErrTxDone

// ErrFactoryClosed is returned when preparing on a closed [Factory].
var ErrFactoryClosed = errors.New("factory is closed")

// ErrUnknownDialect is returned by [Open] for an unsupported URL scheme.
var ErrUnknownDialect = errors.New("unknown dialect")
