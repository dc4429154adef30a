package seat

import (
	"github.com/smallbiznis/seatledger/internal/seat/service"
	"go.uber.org/fx"
)

var Module = fx.Module("seat.service",
	fx.Provide(service.NewService),
)
