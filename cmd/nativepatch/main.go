package main

import (
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"

	_ "net/http/pprof" // profiling

	"nativepatch/internal/nativepatch/cmd"
	"nativepatch/internal/nativepatch/log"
)

// version is stamped with -ldflags "-X main.version=v1.2.3".
var version string

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("Application terminated due to unhandled panic")
	})

	if os.Getenv("NATIVEPATCH_PROFILE") != "" {
		go func() {
			slog.Info("Serving pprof at localhost:6060")
			if httpErr := http.ListenAndServe("localhost:6060", nil); httpErr != nil {
				slog.Error("Failed to pprof listen", "error", httpErr)
			}
		}()
	}

	cmd.Execute(buildVersion())
}

// buildVersion prefers the stamped version, then the module version that
// go install records.
func buildVersion() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return ""
}
