package pipeline

import (
	"go.uber.org/fx"

	"github.com/coverline/coverline/internal/storage"
	"github.com/coverline/coverline/pkg/parser"
)

// Module provides the pipeline queue, executor, worker and admin API.
// DocumentStore and ChunkStore are bound by the documents and chunks
// modules respectively.
var Module = fx.Module("pipeline",
	fx.Provide(
		NewQueue,
		NewRecorder,
		NewExecutor,
		NewWorker,
		NewAdminHandler,
		func(q *Queue) JobTransitioner { return q },
		func(r *Recorder) EventSink { return r },
		func(s *storage.Service) BlobStore { return s },
		func(c *parser.Client) ParserClient { return c },
	),
	fx.Invoke(
		RegisterAdminRoutes,
		RegisterWorkerLifecycle,
	),
)
