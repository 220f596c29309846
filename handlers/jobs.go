package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sawmill-video/sawmill/errors"
	"github.com/sawmill-video/sawmill/jobs"
	"github.com/sawmill-video/sawmill/log"
)

type CreateJobRequest struct {
	Template      string            `json:"template,omitempty"`
	Settings      *jobs.Settings    `json:"settings,omitempty"`
	InputURL      string            `json:"input_url"`
	OutputURL     string            `json:"output_url"`
	WebhookURL    string            `json:"webhook_url,omitempty"`
	EncryptionKey string            `json:"encryption_key,omitempty"`
	KeyURL        string            `json:"key_url,omitempty"`
	MetaData      map[string]string `json:"meta_data,omitempty"`
}

type JobControlRequest struct {
	JobID string `json:"job_id"`
}

var CreateJobRequestSchemaDefinition string = `{
	"type": "object",
	"properties": {
		"template": {
			"type": "string",
			"minLength": 1
		},
		"settings": {
			"type": "object",
			"properties": {
				"format": {
					"type": "string",
					"enum": ["hls", "dash", "adaptive", "mp4"]
				},
				"segment_length": {
					"type": "integer",
					"minimum": 1
				},
				"playlist_type": {
					"type": "string",
					"enum": ["vod", "live"]
				},
				"outputs": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"properties": {
							"name": {
								"type": "string",
								"minLength": 1
							},
							"video": {
								"type": "object"
							},
							"audio": {
								"type": "object"
							}
						},
						"required": ["name", "video"]
					}
				}
			},
			"required": ["format", "outputs"]
		},
		"input_url": {
			"type": "string",
			"minLength": 1
		},
		"output_url": {
			"type": "string",
			"minLength": 1
		},
		"webhook_url": {
			"type": "string"
		},
		"encryption_key": {
			"type": "string"
		},
		"key_url": {
			"type": "string"
		},
		"meta_data": {
			"type": "object",
			"additionalProperties": {
				"type": "string"
			}
		}
	},
	"required": ["input_url", "output_url"],
	"anyOf": [
		{"required": ["template"]},
		{"required": ["settings"]}
	]
}`

var JobControlRequestSchemaDefinition string = `{
	"type": "object",
	"properties": {
		"job_id": {
			"type": "string",
			"minLength": 1
		}
	},
	"required": ["job_id"]
}`

// CreateJob accepts a transcode request, persists it and enqueues one
// rendition task per requested output. Responds 201 with the serialised
// job.
func (d *JobsHandlersCollection) CreateJob() httprouter.Handle {
	schema := inputSchemasCompiled["CreateJob"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var createRequest CreateJobRequest

		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadBodySchema("CreateJob", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &createRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		job := &jobs.Job{
			ID:            uuid.New(),
			Settings:      createRequest.Settings,
			Status:        jobs.StatusNotStarted,
			InputURL:      createRequest.InputURL,
			OutputURL:     createRequest.OutputURL,
			WebhookURL:    createRequest.WebhookURL,
			EncryptionKey: createRequest.EncryptionKey,
			KeyURL:        createRequest.KeyURL,
			MetaData:      createRequest.MetaData,
			CreatedAt:     time.Now().UTC(),
		}
		if createRequest.Template != "" {
			templateID, err := uuid.Parse(createRequest.Template)
			if err != nil {
				errors.WriteHTTPBadRequest(w, "Invalid template id", err)
				return
			}
			job.TemplateID = &templateID
		}

		log.AddContext(job.ID.String(), "input", job.InputURL, "output", job.OutputURL)
		if err := d.Manager.StartJob(req.Context(), job); err != nil {
			if jobs.IsNotFound(err) {
				errors.WriteHTTPBadRequest(w, "Unknown template", err)
				return
			}
			errors.WriteHTTPInternalServerError(w, "Failed to create job", err)
			return
		}

		outputs, err := d.Store.ListOutputs(req.Context(), job.ID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to load job outputs", err)
			return
		}
		writeJSON(w, http.StatusCreated, jobs.Serialize(job, outputs))
	}
}

// GetJob returns the serialised job with its outputs.
func (d *JobsHandlersCollection) GetJob() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		jobID, err := uuid.Parse(params.ByName("id"))
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid job id", err)
			return
		}

		job, err := d.Store.GetJob(req.Context(), jobID)
		if err != nil {
			if jobs.IsNotFound(err) {
				errors.WriteHTTPNotFound(w, "Job not found", err)
				return
			}
			errors.WriteHTTPInternalServerError(w, "Failed to load job", err)
			return
		}
		outputs, err := d.Store.ListOutputs(req.Context(), jobID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to load job outputs", err)
			return
		}
		writeJSON(w, http.StatusOK, jobs.Serialize(job, outputs))
	}
}

// ListJobs returns every known job, oldest first.
func (d *JobsHandlersCollection) ListJobs() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		allJobs, err := d.Store.ListJobs(req.Context())
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to list jobs", err)
			return
		}

		serialized := make([]jobs.SerializedJob, 0, len(allJobs))
		for _, job := range allJobs {
			outputs, err := d.Store.ListOutputs(req.Context(), job.ID)
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Failed to load job outputs", err)
				return
			}
			serialized = append(serialized, jobs.Serialize(job, outputs))
		}
		writeJSON(w, http.StatusOK, serialized)
	}
}

// CancelJob revokes every rendition task of the job. Cancelling an
// already-completed job is a no-op.
func (d *JobsHandlersCollection) CancelJob() httprouter.Handle {
	return d.controlHandler("CancelJob", func(req *http.Request, jobID uuid.UUID) error {
		return d.Manager.StopJob(req.Context(), jobID)
	})
}

// RestartJob stops the job and enqueues a fresh run over the same
// outputs.
func (d *JobsHandlersCollection) RestartJob() httprouter.Handle {
	return d.controlHandler("RestartJob", func(req *http.Request, jobID uuid.UUID) error {
		return d.Manager.RestartJob(req.Context(), jobID)
	})
}

func (d *JobsHandlersCollection) controlHandler(name string, action func(req *http.Request, jobID uuid.UUID) error) httprouter.Handle {
	schema := inputSchemasCompiled["JobControl"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var controlRequest JobControlRequest

		if !HasContentType(req, "application/json") {
			errors.WriteHTTPUnsupportedMediaType(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadBodySchema(name, w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &controlRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		jobID, err := uuid.Parse(controlRequest.JobID)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid job id", err)
			return
		}

		if err := action(req, jobID); err != nil {
			if jobs.IsNotFound(err) {
				errors.WriteHTTPNotFound(w, "Job not found", err)
				return
			}
			errors.WriteHTTPInternalServerError(w, fmt.Sprintf("%s failed", name), err)
			return
		}

		job, err := d.Store.GetJob(req.Context(), jobID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to load job", err)
			return
		}
		outputs, err := d.Store.ListOutputs(req.Context(), jobID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Failed to load job outputs", err)
			return
		}
		writeJSON(w, http.StatusOK, jobs.Serialize(job, outputs))
	}
}
