package repo

import (
	"time"

	"chatmatch-service/internal/config"
	"chatmatch-service/pkg/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var NC *nats.Conn

func InitNATS() {
	conf := config.GlobalConfig.NATS
	opts := []nats.Option{
		nats.Name("chatmatch-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if conf.User != "" {
		opts = append(opts, nats.UserInfo(conf.User, conf.Password))
	}

	var err error
	for attempt := 1; attempt <= 10; attempt++ {
		NC, err = nats.Connect(conf.URL, opts...)
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for NATS", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	logger.Log.Info("Connected to NATS", zap.String("url", NC.ConnectedUrl()))
}
