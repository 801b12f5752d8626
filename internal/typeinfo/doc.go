// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package typeinfo contains the reflection code of dblite. It turns struct values
passed as clause sources into ordered (column, value) members and struct types
passed as table references into table names. As much as possible, reflection
code is limited to this package.
*/
package typeinfo
