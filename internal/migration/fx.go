package migration

import (
	"context"
	"time"

	"github.com/railzwaylabs/deskbill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrateTimeout = 2 * time.Minute

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
		defer cancel()
		return Run(ctx, conn, cfg.DBType, log.Named("migration"))
	}),
)

// GateModule refuses to start when the schema was not migrated by this build.
var GateModule = fx.Module("migrations.gate",
	fx.Provide(NewSchemaGate),
	fx.Invoke(EnforceSchemaGate),
)

func EnforceSchemaGate(lc fx.Lifecycle, gate SchemaGate) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return gate.MustBeActive(ctx)
		},
	})
}
