package billingcycle

import (
	"github.com/railzwaylabs/deskbill/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(service.NewService),
)
