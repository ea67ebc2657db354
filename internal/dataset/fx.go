package dataset

import (
	"github.com/smallbiznis/settlr/internal/config"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/dataset/repository"
	"github.com/smallbiznis/settlr/internal/dataset/service"
	"github.com/smallbiznis/settlr/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("dataset.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideLocker),
	fx.Provide(service.New),
)

// provideLocker returns a nil interface unless the registry lock is enabled
// and redis is configured.
func provideLocker(cfg config.Config, locker *ratelimit.Locker) datasetdomain.Locker {
	if !cfg.Registry.LockEnabled || locker == nil {
		return nil
	}
	return locker
}
