// Package all links every storage backend into the binary. Import it for
// side effects where the configured export kind is only known at runtime.
package all

import (
	_ "aggpipe/internal/storage/postgres"
	_ "aggpipe/internal/storage/sqlite"
)
