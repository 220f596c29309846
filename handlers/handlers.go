// Package handlers implements the HTTP surface of the transcoding API:
// job submission, inspection, cancel and restart.
package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
	"github.com/sawmill-video/sawmill/pipeline"
)

type JobsHandlersCollection struct {
	Store   jobs.Store
	Manager *pipeline.JobManager
}

func (d *JobsHandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		_, err := w.Write([]byte("OK"))
		if err != nil {
			log.LogNoJobID("Failed to write HTTP response for " + req.URL.RawPath)
		}
	}
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}

	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.LogNoJobID("error writing HTTP response body", "error", err)
	}
}
