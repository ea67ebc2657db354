package effectiveview

import (
	"github.com/smallbiznis/settlr/internal/clock"
	"github.com/smallbiznis/settlr/internal/config"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("effectiveview",
	fx.Provide(
		func(cfg config.Config) Store { return NewLocalStore(cfg.Storage.Dir) },
		func(s Store) datasetdomain.PartitionRemover { return s },
		func(s Store, c clock.Clock, log *zap.Logger) *Builder { return NewBuilder(s, c, log) },
	),
)
