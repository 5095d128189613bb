// Package version описывает сборку сервиса.
//
// Значения задаются при сборке:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/flashsale/internal/version.version=v1.2.0"
//
// Без ldflags commit и date берутся из VCS-данных, которые go build встраивает сам.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build сведения о текущем бинаре.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	// Dirty: бинарь собран из рабочей копии с незакоммиченными изменениями.
	Dirty bool
}

var current = sync.OnceValue(func() Build {
	info, _ := debug.ReadBuildInfo()
	return resolve(info)
})

// Current возвращает сведения о сборке; вычисляются один раз.
func Current() Build { return current() }

func resolve(info *debug.BuildInfo) Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = setting.Value
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = setting.Value
				}
			case "vcs.modified":
				b.Dirty = setting.Value == "true"
			}
		}
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

func (b Build) String() string {
	s := fmt.Sprintf("%s (%s, %s, %s)", b.Version, b.Commit, b.Date, b.GoVersion)
	if b.Dirty {
		s += " dirty"
	}
	return s
}

// Fields для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
		"go_version": b.GoVersion,
	}
}
