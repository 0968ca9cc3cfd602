package customer

import (
	"github.com/railzwaylabs/deskbill/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(service.New),
)
