package main

// logging module provides various logging methods
//
// Copyright (c) 2020 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	logs "github.com/sirupsen/logrus"
)

// helper function to unescape logged messages
func utcMsg(data []byte) string {
	s := string(data)
	v, e := url.QueryUnescape(s)
	if e == nil {
		return v
	}
	return s
}

// custom rotate logger
type rotateLogWriter struct {
	RotateLogs *rotatelogs.RotateLogs
}

func (w rotateLogWriter) Write(data []byte) (int, error) {
	return w.RotateLogs.Write([]byte(utcMsg(data)))
}

// setupLogging configures logrus output, formatter and level. Log file is
// rotated daily and carries the host name.
func setupLogging(c Configuration) error {
	switch c.LogFormatter {
	case "json":
		logs.SetFormatter(&logs.JSONFormatter{})
	default:
		logs.SetFormatter(&logs.TextFormatter{FullTimestamp: true})
	}
	if c.Verbose > 0 {
		logs.SetLevel(logs.DebugLevel)
	} else {
		logs.SetLevel(logs.InfoLevel)
	}
	if c.LogFile == "" {
		logs.SetOutput(os.Stderr)
		return nil
	}
	logName := c.LogFile + "-%Y%m%d"
	if hostname, err := os.Hostname(); err == nil {
		logName = c.LogFile + "-" + hostname + "-%Y%m%d"
	}
	rl, err := rotatelogs.New(logName)
	if err != nil {
		return err
	}
	logs.SetOutput(rotateLogWriter{RotateLogs: rl})
	return nil
}

// helper function to log every single user request
func logRequest(r *http.Request, start time.Time, status int, bytesOut int64) {
	referer := r.Referer()
	if referer == "" {
		referer = "-"
	}
	var clientip string
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		clientip = strings.Split(xff, ":")[0]
	} else if r.RemoteAddr != "" {
		clientip = strings.Split(r.RemoteAddr, ":")[0]
	}
	uri, err := url.QueryUnescape(r.RequestURI)
	if err != nil {
		uri = r.RequestURI
	}
	logs.WithFields(logs.Fields{
		"Proto":       r.Proto,
		"Status":      status,
		"Method":      r.Method,
		"URI":         uri,
		"API":         getAPI(r.RequestURI),
		"ClientIP":    clientip,
		"BytesIn":     r.ContentLength,
		"BytesOut":    bytesOut,
		"Referer":     referer,
		"UserAgent":   r.Header.Get("User-Agent"),
		"RequestTime": time.Since(start).Seconds(),
	}).Info("request")
}

// helper function to extract service API from the record URI
func getAPI(uri string) string {
	// /export?run=bla
	arr := strings.Split(uri, "/")
	last := arr[len(arr)-1]
	arr = strings.Split(last, "?")
	return arr[0]
}
