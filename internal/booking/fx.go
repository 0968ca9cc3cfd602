package booking

import (
	"github.com/railzwaylabs/deskbill/internal/booking/repository"
	"github.com/railzwaylabs/deskbill/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
