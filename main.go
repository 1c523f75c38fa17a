package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	log "github.com/sirupsen/logrus"
)

var args struct {
	Token              string        `arg:"-t,--token" help:"telegram bot token"`
	TokenEnvKey        string        `arg:"--token-env-key" help:"telegram bot token env key"`
	FirebaseConf       string        `arg:"-c,--conf" help:"firebase service account base64 conf"`
	FirebaseConfEnvKey string        `arg:"--conf-env-key" help:"firebase service account base64 conf env key"`
	Database           string        `arg:"--db" default:"restock.db" help:"sqlite database path, :memory: keeps items in memory"`
	Catalog            string        `arg:"--catalog" default:"https://re-store.ru" help:"catalog base url"`
	Schedule           string        `arg:"--schedule" default:"0 0 */4 * * *" help:"check schedule in cron format with seconds"`
	Timezone           string        `arg:"--timezone" default:"Europe/Moscow" help:"schedule timezone"`
	Concurrency        int64         `arg:"--concurrency" default:"4" help:"max parallel catalog requests per check"`
	Rate               float64       `arg:"--rate" default:"2" help:"max catalog requests per second"`
	Timeout            time.Duration `arg:"--timeout" default:"30s" help:"catalog request timeout"`
	Retention          time.Duration `arg:"--retention" help:"drop items nobody watches after this period, 0 keeps them forever"`
	CheckOnStart       bool          `arg:"--check-on-start" help:"check all items right after start"`
	Metrics            string        `arg:"--metrics" help:"address to serve prometheus metrics on"`
	LogLevel           string        `arg:"--log-level" default:"info" help:"log level"`
	LogJSON            bool          `arg:"--log-json" help:"log in json format"`
}

const shutdownTimeout = 30 * time.Second

func main() {
	arg.MustParse(&args)
	setUpLogging(args.LogLevel, args.LogJSON)

	var token string
	if len(args.Token) != 0 {
		token = args.Token
	} else if len(args.TokenEnvKey) != 0 {
		token = os.Getenv(args.TokenEnvKey)
	}

	if len(token) == 0 {
		log.Fatal(errTelegramBotTokenNotFound)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	app, err := launch(context.Background(), token)
	if err != nil {
		log.WithError(err).Fatal("failed to launch")
	}

	sig := <-sigs
	log.WithField("signal", sig).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.stop(ctx)
}
