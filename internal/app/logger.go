package app

import (
	"go.uber.org/zap"

	"classledger/internal/config"
)

// NewLogger builds a JSON production logger for production environments and
// a console development logger otherwise.
func NewLogger(cfg config.App) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if cfg.Production() {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewExample()
	}
	return log.With(zap.String("env", cfg.Env))
}
