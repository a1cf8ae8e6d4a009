package chunks

import (
	"go.uber.org/fx"

	"github.com/coverline/coverline/domain/pipeline"
)

// Module provides the chunks repository and binds it as the pipeline's
// chunk store.
var Module = fx.Module("chunks",
	fx.Provide(
		NewRepository,
		func(r *Repository) pipeline.ChunkStore { return r },
	),
)
