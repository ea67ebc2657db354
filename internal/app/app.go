// Package app groups the fx modules each binary is assembled from.
package app

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlr/internal/blob"
	"github.com/smallbiznis/settlr/internal/clock"
	"github.com/smallbiznis/settlr/internal/config"
	"github.com/smallbiznis/settlr/internal/dataset"
	"github.com/smallbiznis/settlr/internal/effectiveview"
	"github.com/smallbiznis/settlr/internal/intake"
	"github.com/smallbiznis/settlr/internal/job"
	"github.com/smallbiznis/settlr/internal/metricspush"
	"github.com/smallbiznis/settlr/internal/migration"
	"github.com/smallbiznis/settlr/internal/observability"
	"github.com/smallbiznis/settlr/internal/queue"
	"github.com/smallbiznis/settlr/internal/ratelimit"
	"github.com/smallbiznis/settlr/internal/reconcile"
	"github.com/smallbiznis/settlr/internal/report"
	"github.com/smallbiznis/settlr/internal/rules"
	"github.com/smallbiznis/settlr/internal/server"
	"github.com/smallbiznis/settlr/pkg/db"
	"github.com/smallbiznis/settlr/pkg/redisconn"
	"go.uber.org/fx"
)

// Infra is config, logging, tracing, the database and redis.
var Infra = fx.Options(
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	migration.Module,
	redisconn.Module,
	clock.Module,
)

// Core is the registry, job store, queue and storage shared by every role.
var Core = fx.Options(
	ratelimit.Module,
	rules.Module,
	job.Module,
	dataset.Module,
	effectiveview.Module,
	queue.Module,
	blob.Module,
	intake.Module,
	report.Module,
)

var API = fx.Options(
	Infra,
	Core,
	server.Module,
)

var Worker = fx.Options(
	Infra,
	Core,
	reconcile.Module,
	metricspush.Module,
)

// Standalone runs the API and a worker in one process.
var Standalone = fx.Options(
	Infra,
	Core,
	server.Module,
	reconcile.Module,
	metricspush.Module,
)

// Role tags the process for logs, traces and metrics unless APP_ROLE already
// did. Edits run afterwards; fx allows one decorator per type per scope, so
// callers fold their config overrides in here.
func Role(role string, edits ...func(*config.Config)) fx.Option {
	return fx.Decorate(func(cfg config.Config) config.Config {
		if cfg.Role == "" {
			cfg.Role = role
		}
		for _, edit := range edits {
			edit(&cfg)
		}
		return cfg
	})
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
