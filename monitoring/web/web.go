// Package web embeds the monitor dashboard.
//
// Setting KCORE_MONITOR_DEV to "true" or "1" serves the dashboard from the
// dist directory next to this file instead, so it can be edited without a
// rebuild. Any other non-empty value other than "false" or "0" is taken as
// the directory to serve.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DevEnv is the environment variable that selects where assets come from.
const DevEnv = "KCORE_MONITOR_DEV"

//go:embed dist/*
var dist embed.FS

// Assets returns the dashboard files.
func Assets() http.FileSystem {
	if dir, ok := devDir(); ok {
		fmt.Fprintf(os.Stderr, "Monitor serving dashboard from %s\n", dir)
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

// Handler serves the dashboard. Files served from disk are never cached by
// the browser.
func Handler() http.Handler {
	files := http.FileServer(Assets())
	if _, ok := devDir(); !ok {
		return files
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}

func devDir() (string, bool) {
	v := strings.TrimSpace(os.Getenv(DevEnv))

	switch strings.ToLower(v) {
	case "", "false", "0":
		return "", false
	case "true", "1":
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			panic("web: cannot locate source directory")
		}

		return filepath.Join(filepath.Dir(file), "dist"), true
	default:
		return v, true
	}
}
