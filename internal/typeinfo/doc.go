// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package typeinfo contains code relating to Go types and their processing by
the accessor pipeline. As much as possible, reflection code is limited to this
package. It contains the logic for extracting member information from types,
locating values inside arguments and converting column values into the types
of result shapes.
*/
package typeinfo
