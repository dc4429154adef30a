package publicinvoice

import (
	"github.com/smallbiznis/seatledger/internal/publicinvoice/pdf"
	"github.com/smallbiznis/seatledger/internal/publicinvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("publicinvoice",
	fx.Provide(pdf.New),
	fx.Provide(service.New),
)
