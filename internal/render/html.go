// Package render produces the server-rendered HTML dashboard from a
// snapshot.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pvemon/gpumon-web/internal/snapshot"
)

//go:embed assets/*
var assets embed.FS

// Renderer renders snapshots into the dashboard page.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded dashboard template.
func New() (*Renderer, error) {
	tmpl, err := template.New("dashboard.html.tmpl").Funcs(templateFuncs()).ParseFS(assets, "assets/dashboard.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Dashboard writes the HTML view of snap to w.
func (r *Renderer) Dashboard(w io.Writer, snap snapshot.Snapshot) error {
	return r.tmpl.Execute(w, snap)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"fmtTime": func(ts time.Time) string {
			return ts.Local().Format("2006-01-02 15:04:05")
		},
		"mib": func(bytes uint64) string {
			return fmt.Sprintf("%.2f", float64(bytes)/(1024*1024))
		},
		"human":    humanBytes,
		"rate":     func(bps float64) string { return humanBytes(uint64(bps)) + "/s" },
		"watts":    func(milliwatts uint64) string { return fmt.Sprintf("%.1f", float64(milliwatts)/1000) },
		"powerPct": powerPercent,
		"barColor": barColor,
		"pct1":     func(value float64) string { return fmt.Sprintf("%.1f", value) },
		"pct0":     func(value float64) string { return fmt.Sprintf("%.0f", value) },
		"derefF":   func(p *float64) float64 { return *p },
		"derefU":   func(p *uint64) uint64 { return *p },
		"joinInts": func(values []int) string {
			parts := make([]string, len(values))
			for i, v := range values {
				parts[i] = strconv.Itoa(v)
			}
			return strings.Join(parts, ", ")
		},
		"isMulti": func(multi map[string]snapshot.MultiGPUContainer, id string) bool {
			_, ok := multi[id]
			return ok
		},
		"orHost": func(id *string) string {
			if id == nil {
				return snapshot.HostContainerID
			}
			return *id
		},
		"orHostName": func(name *string) string {
			if name == nil {
				return snapshot.HostContainerName
			}
			return *name
		},
		"runTime": humanDuration,
	}
}

func humanBytes(bytes uint64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case bytes >= gib:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/gib)
	case bytes >= mib:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/mib)
	case bytes >= kib:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/kib)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func humanDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

func powerPercent(usageMW, limitMW uint64) float64 {
	if limitMW == 0 {
		return 0
	}
	return float64(usageMW) / float64(limitMW) * 100
}

// barColor mirrors the dashboard's traffic-light thresholds.
func barColor(pct float64) string {
	switch {
	case pct > 90:
		return "#F44336"
	case pct > 70:
		return "#FFEB3B"
	default:
		return "#4CAF50"
	}
}
