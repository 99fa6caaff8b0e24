package webui

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/davecgh/go-spew/spew"
	"livetrail.dev/internal/app"
	"livetrail.dev/internal/appconf"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

var dataTypes = []string{"state", "status", "store", "config"}

type debugData struct {
	Title string
	Pre   string
	Links []string
}

// WebUI serves the debug pages.
type WebUI struct {
	*app.Application
}

func writeDebugData(w http.ResponseWriter, title string, data interface{}) {
	config := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := debugTemplate.Execute(w, debugData{
		Title: title,
		Pre:   config.Sdump(data),
		Links: dataTypes,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// redactedConfig hides secrets before the config is dumped.
func redactedConfig(cfg appconf.Config) appconf.Config {
	const mask = "[redacted]"

	keys := make([]string, len(cfg.ApiKeys))
	for i := range keys {
		keys[i] = mask
	}
	cfg.ApiKeys = keys
	if cfg.Engine.SnapServiceCredential != "" {
		cfg.Engine.SnapServiceCredential = mask
	}
	if cfg.Source.Firebase.Credential != "" {
		cfg.Source.Firebase.Credential = mask
	}
	return cfg
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	dataType := r.URL.Query().Get("dataType")

	var data interface{}
	var title string

	switch dataType {
	case "state":
		data = webUI.Engine.Current()
		title = "Render State"
	case "status":
		data = webUI.Engine.Status()
		title = "Poll Loop Status"
	case "store":
		snap, err := webUI.Store.Load(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data = snap
		title = "Trail Store"
	case "config":
		data = redactedConfig(webUI.Config)
		title = "Configuration"
	default:
		data = map[string]string{
			"error": "Please use one of the following: state, status, store, config.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, title, data)
}
