// Package metrics provides functions to record metrics data.
// It writes logs to local CSV files for simple setups.
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tzrikka/xdg"
)

const (
	DefaultMetricsFileFetch   = "metrics/netduct_fetch_%s.csv"
	DefaultMetricsFileStreams = "metrics/netduct_streams_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

var (
	muFetch   sync.Mutex
	muStreams sync.Mutex
)

// CountFetch counts HTTP requests that the gateway executed
// on behalf of its WebSocket clients, successful or not.
func CountFetch(t time.Time, url string, err error) {
	muFetch.Lock()
	defer muFetch.Unlock()

	record := []string{t.Format(time.RFC3339), url, errMsg(err)}
	_ = appendToCSVFile(DefaultMetricsFileFetch, t, record)
}

// CountStreamOpen counts TCP/TLS streams that the gateway opened
// on behalf of its WebSocket clients, successful or not.
func CountStreamOpen(t time.Time, addr string, tls bool, err error) {
	muStreams.Lock()
	defer muStreams.Unlock()

	record := []string{t.Format(time.RFC3339), addr, strconv.FormatBool(tls), errMsg(err)}
	_ = appendToCSVFile(DefaultMetricsFileStreams, t, record)
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return nil
}
