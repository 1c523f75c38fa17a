package main

import log "github.com/sirupsen/logrus"

func setUpLogging(level string, json bool) {
	if json {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warn("unknown log level, falling back to info")
		lvl = log.InfoLevel
	}

	log.SetLevel(lvl)
}
