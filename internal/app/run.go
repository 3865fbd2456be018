package app

import (
	"basin/internal/domain"
	"basin/internal/hydro"
)

// Run is a stored run record together with the in-memory build that produced
// it. Build is nil when the run was loaded back from the store.
type Run struct {
	domain.Run

	Build *hydro.Build
}
