package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	logs "github.com/sirupsen/logrus"
	"github.com/vkuznet/tfexport/exporter"
)

// TotalGetRequests counts total number of GET requests received by the server
var TotalGetRequests uint64

// TotalPostRequests counts total number of POST requests received by the server
var TotalPostRequests uint64

// TotalExports counts total number of successful exports
var TotalExports uint64

// global exporter and lock which keeps one export at a time
var (
	_exporter    *exporter.Exporter
	_exportMutex sync.Mutex
)

// Memory contains details about memory information
type Memory struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

// Mem keeps memory information
type Mem struct {
	Virtual Memory
	Swap    Memory
}

// ExportRequest represents export request, use_best defaults to true
type ExportRequest struct {
	Run     string `json:"run"`
	UseBest *bool  `json:"use_best"`
}

// ExportResponse represents export response
type ExportResponse struct {
	ID     string           `json:"id"`
	Result *exporter.Result `json:"result"`
}

// helper function to provide response
func responseError(w http.ResponseWriter, msg string, err error, code int) {
	logs.WithFields(logs.Fields{
		"Error": err,
		"Code":  code,
	}).Error(msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	rec := map[string]string{"error": msg}
	if err != nil {
		rec["reason"] = err.Error()
	}
	json.NewEncoder(w).Encode(rec)
}

// helper function to provide response in JSON data format
func responseJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// helper function to map export error kinds to HTTP status codes
func errorCode(err error) int {
	switch {
	case errors.Is(err, exporter.ErrConfigNotFound), errors.Is(err, exporter.ErrWeightsNotFound):
		return http.StatusNotFound
	case errors.Is(err, exporter.ErrConfigMalformed):
		return http.StatusBadRequest
	case errors.Is(err, exporter.ErrUnsupportedModelType), errors.Is(err, exporter.ErrWeightsIncompatible):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

//
// HTTP handlers, POST methods
//

// ExportHandler exports given run into frozen graph
func ExportHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responseError(w, "unable to decode export request", err, http.StatusBadRequest)
		return
	}
	if !validRun(req.Run) {
		responseError(w, fmt.Sprintf("invalid run name %q", req.Run), nil, http.StatusBadRequest)
		return
	}
	useBest := true
	if req.UseBest != nil {
		useBest = *req.UseBest
	}
	id := uuid.New().String()
	logs.WithFields(logs.Fields{"ID": id, "Run": req.Run, "UseBest": useBest}).Info("export request")

	_exportMutex.Lock()
	res, err := _exporter.Export(req.Run, useBest)
	_exportMutex.Unlock()
	if err != nil {
		responseError(w, fmt.Sprintf("export %s of run %s failed", id, req.Run), err, errorCode(err))
		return
	}
	atomic.AddUint64(&TotalExports, 1)
	responseJSON(w, ExportResponse{ID: id, Result: res})
}

//
// HTTP handlers, GET methods
//

// RunsHandler returns list of known runs
func RunsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := _exporter.Config.Runs()
	if err != nil {
		responseError(w, "unable to list runs", err, http.StatusInternalServerError)
		return
	}
	responseJSON(w, runs)
}

// DataHandler serves frozen graph of given run
func DataHandler(w http.ResponseWriter, r *http.Request) {
	run := r.FormValue("run")
	if run == "" {
		responseError(w, "run parameter is required", nil, http.StatusBadRequest)
		return
	}
	fname := filepath.Join(_exporter.Config.RunDir(run), exporter.OutputGraph)
	fi, err := os.Stat(fname)
	if err != nil {
		responseError(w, fmt.Sprintf("run %s is not exported", run), nil, http.StatusNotFound)
		return
	}
	fin, err := os.Open(fname)
	if err != nil {
		responseError(w, fmt.Sprintf("unable to open file: %s", fname), err, http.StatusInternalServerError)
		return
	}
	defer fin.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	// we don't need to WriteHeader here since it is handled by http.ServeContent
	http.ServeContent(w, r, exporter.OutputGraph, fi.ModTime(), fin)
}

// StatusHandler handlers Status requests
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	// get cpu and mem profiles
	m, _ := mem.VirtualMemory()
	s, _ := mem.SwapMemory()
	l, _ := load.Avg()
	c, _ := cpu.Percent(time.Millisecond, true)

	data := make(map[string]interface{})
	data["NGo"] = runtime.NumGoroutine()
	var virt, swap Memory
	if m != nil {
		virt = Memory{Total: m.Total, Free: m.Free, Used: m.Used, UsedPercent: m.UsedPercent}
	}
	if s != nil {
		swap = Memory{Total: s.Total, Free: s.Free, Used: s.Used, UsedPercent: s.UsedPercent}
	}
	data["Memory"] = Mem{Virtual: virt, Swap: swap}
	data["Load"] = l
	data["CPU"] = c
	data["Uptime"] = time.Since(Time0).Seconds()
	data["getRequests"] = atomic.LoadUint64(&TotalGetRequests)
	data["postRequests"] = atomic.LoadUint64(&TotalPostRequests)
	data["exports"] = atomic.LoadUint64(&TotalExports)
	responseJSON(w, data)
}
