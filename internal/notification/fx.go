package notification

import (
	"github.com/smallbiznis/seatledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewSenderFromConfig),
	fx.Provide(fx.Annotate(NewEmailNotifier, fx.As(new(Notifier)))),
)

func NewSenderFromConfig(cfg config.Config, log *zap.Logger) Sender {
	if cfg.Email.SMTPHost == "" {
		log.Info("smtp not configured, notifications are disabled")
		return NoOpSender{}
	}
	return NewSMTP(SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}
