package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/tfexport/exporter"
)

// Time0 represents initial time when we start the server
var Time0 time.Time

func basePath(s string) string {
	if _config.Server.Base != "" {
		if strings.HasPrefix(s, "/") {
			s = strings.Replace(s, "/", "", 1)
		}
		if strings.HasPrefix(_config.Server.Base, "/") {
			return fmt.Sprintf("%s/%s", _config.Server.Base, s)
		}
		return fmt.Sprintf("/%s/%s", _config.Server.Base, s)
	}
	return s
}

func handlers() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc(basePath("/export"), ExportHandler).Methods("POST")
	router.HandleFunc(basePath("/runs"), RunsHandler).Methods("GET")
	router.HandleFunc(basePath("/data"), DataHandler).Methods("GET")
	router.HandleFunc(basePath("/status"), StatusHandler).Methods("GET")

	router.Use(loggingMiddleware)
	router.Use(validateMiddleware)
	router.Use(limitMiddleware)
	return router
}

// server represents export service
func server(c Configuration) error {
	Time0 = time.Now()
	_config = c
	_exporter = exporter.New(c.exporterConfig(httpClient()))
	if c.Server.Rate != "" {
		if err := initLimiter(c.Server.Rate); err != nil {
			return fmt.Errorf("invalid limiter rate %s: %v", c.Server.Rate, err)
		}
	}
	logs.WithFields(logs.Fields{"Config": c.String()}).Info("export service")

	addr := fmt.Sprintf(":%d", c.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	_, e1 := os.Stat(c.Server.ServerCrt)
	_, e2 := os.Stat(c.Server.ServerKey)
	if c.Server.ServerCrt != "" && e1 == nil && e2 == nil {
		srv.TLSConfig = &tls.Config{ClientAuth: tls.RequestClientCert}
		logs.WithFields(logs.Fields{"Addr": addr}).Info("starting HTTPs server")
		return srv.ListenAndServeTLS(c.Server.ServerCrt, c.Server.ServerKey)
	}
	logs.WithFields(logs.Fields{"Addr": addr}).Info("starting HTTP server")
	return srv.ListenAndServe()
}
