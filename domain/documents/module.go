package documents

import (
	"go.uber.org/fx"

	"github.com/coverline/coverline/domain/pipeline"
)

// Module provides the documents repository, service and public API, and
// binds the repository as the pipeline's document store.
var Module = fx.Module("documents",
	fx.Provide(
		NewRepository,
		NewService,
		NewHandler,
		func(r *Repository) pipeline.DocumentStore { return r },
	),
	fx.Invoke(RegisterRoutes),
)
