package payment

import (
	"github.com/smallbiznis/seatledger/internal/payment/repository"
	"github.com/smallbiznis/seatledger/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(repository.Provide),
	fx.Provide(webhook.NewService),
)
