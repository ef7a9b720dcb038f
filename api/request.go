package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"text2phenotype.com/seqtag/pipeline"
	"text2phenotype.com/seqtag/registry"
	"text2phenotype.com/seqtag/types"
	"text2phenotype.com/seqtag/utils"
)

type Processor interface {
	Process(ctx context.Context, request pipeline.Request) (types.Result, error)
}

type StatusSource interface {
	Statuses() map[string]registry.Status
}

type Request struct {
	Pipeline Processor
	Models   StatusSource
}

type tagRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type unavailableResponse struct {
	Unavailable string `json:"unavailable"`
}

// Routes registers the endpoints on mux.
func (req *Request) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/tag", req.Tag)
	mux.HandleFunc("/models", req.ListModels)
}

func (req *Request) Tag(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	logger := makeRequestLogger(r)

	if r.Method != http.MethodPost {
		logger.Err(nil).Int("status", http.StatusMethodNotAllowed).Msg("Only 'POST' method is allowed here")
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}
	msg, err := ioutil.ReadAll(r.Body)
	if err != nil {
		logger.Err(err).Int("status", http.StatusBadRequest).Msg("Could not read request body")
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	var body tagRequest
	if err = json.Unmarshal(msg, &body); err != nil || body.Model == "" {
		logger.Err(err).Int("status", http.StatusBadRequest).Msg("Request body must be {\"text\", \"model\"}")
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	request := pipeline.Request{
		Tid:   r.Header.Get("X-Request-Id"),
		Text:  body.Text,
		Model: body.Model,
	}
	logger.Info().Str("tid", request.Tid).Str("model", request.Model).Msg("Starting pipeline for request from API")
	result, err := req.process(r.Context(), request)
	switch {
	case errors.Is(err, pipeline.ErrUnavailable):
		logger.Err(err).Int("status", http.StatusNotFound).Msg("Model is unavailable")
		writeJSON(w, http.StatusNotFound, unavailableResponse{Unavailable: request.Model})
		return
	case err != nil:
		logger.Err(err).Int("status", http.StatusInternalServerError).Msg("Pipeline failed")
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
	logger.Info().Int("status", http.StatusOK).Int("tokens", result.Len()).Msg("Finished processing request")
}

func (req *Request) ListModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	logger := makeRequestLogger(r)
	if r.Method != http.MethodGet {
		logger.Err(nil).Int("status", http.StatusMethodNotAllowed).Msg("Only 'GET' method is allowed here")
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, req.Models.Statuses())
}

func (req *Request) process(ctx context.Context, request pipeline.Request) (result types.Result, err error) {
	defer utils.RecoverWithError(&err)
	return req.Pipeline.Process(ctx, request)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		defaultLogger.Err(err).Msg("Failed to encode response")
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
