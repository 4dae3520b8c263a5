package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialscope/internal/dataset"
	"github.com/JakeFAU/socialscope/internal/jobs"
	"github.com/JakeFAU/socialscope/internal/metrics"
	"github.com/JakeFAU/socialscope/internal/processor"
	"github.com/JakeFAU/socialscope/internal/search"
)

// TypeCustomSearch is the dataset type of CSV uploads.
const TypeCustomSearch = "custom-search"

type createDatasetRequest struct {
	Parameters map[string]any `json:"parameters" validate:"required"`
}

type runProcessorRequest struct {
	Options map[string]any `json:"options"`
}

type importRequest struct {
	Filename string `validate:"required,max=255"`
}

type datasetResponse struct {
	Dataset    dataset.Record `json:"dataset"`
	Completion string         `json:"completion"`
	JobID      int64          `json:"job_id,omitempty"`
}

type genealogyEntry struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Label string `json:"query"`
}

func describe(ds *dataset.Dataset) datasetResponse {
	completion, _ := ds.CheckCompletion()
	return datasetResponse{Dataset: ds.Record(), Completion: completion.String(), JobID: ds.JobID()}
}

func (s *Server) requester(r *http.Request) search.Requester {
	admin := s.cfg.AdminKey != "" && r.Header.Get("X-Admin-Key") == s.cfg.AdminKey
	return search.Requester{Admin: admin}
}

// createDataset validates search parameters, creates (or finds) the dataset and queues its job.
func (s *Server) createDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := search.Validate(req.Parameters, s.requester(r))
	if err != nil {
		var qerr *search.QueryError
		if errors.As(err, &qerr) {
			writeError(w, http.StatusBadRequest, qerr.Msg)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params["datasource"] = s.cfg.Datasource
	ds, err := s.datasets.GetOrCreate(r.Context(), dataset.CreateRequest{
		Parameters: params,
		Type:       s.cfg.Datasource + "-search",
	})
	if err != nil {
		s.logger.Error("create dataset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create dataset")
		return
	}
	s.queueDataset(w, r, ds)
}

// queueDataset enqueues the job producing ds unless it already finished or is queued.
func (s *Server) queueDataset(w http.ResponseWriter, r *http.Request, ds *dataset.Dataset) {
	if ds.IsFinished() {
		writeJSON(w, http.StatusOK, describe(ds))
		return
	}
	ctx := r.Context()
	job, err := s.queue.Enqueue(ctx, jobs.NewJob{Type: ds.Type(), RemoteID: ds.Key()})
	switch {
	case errors.Is(err, jobs.ErrJobAlreadyExists):
		_, err = ds.LinkJob(ctx, nil)
	case err == nil:
		_, err = ds.LinkJob(ctx, &job)
	}
	if err != nil {
		s.logger.Error("queue dataset failed", zap.String("dataset", ds.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue dataset")
		return
	}
	writeJSON(w, http.StatusAccepted, describe(ds))
}

// importDataset turns an uploaded CSV body into a finished custom-search dataset.
func (s *Server) importDataset(w http.ResponseWriter, r *http.Request) {
	req := importRequest{Filename: strings.TrimSpace(r.URL.Query().Get("filename"))}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "filename query parameter is required")
		return
	}
	params := dataset.Parameters{
		"datasource": "custom",
		"filename":   req.Filename,
	}
	if s.clock != nil {
		params["time"] = s.clock.Now().Unix()
	}
	ds, err := s.datasets.GetOrCreate(r.Context(), dataset.CreateRequest{Parameters: params, Type: TypeCustomSearch})
	if err != nil {
		s.logger.Error("create import dataset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create dataset")
		return
	}
	n, err := ds.ImportCSV(r.Context(), r.Body)
	switch {
	case errors.Is(err, dataset.ErrInvalidRows):
		if delErr := ds.Delete(context.WithoutCancel(r.Context())); delErr != nil {
			s.logger.Warn("discard rejected import", zap.String("dataset", ds.Key()), zap.Error(delErr))
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dataset.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, "dataset already imported")
		return
	case err != nil:
		s.logger.Error("import failed", zap.String("dataset", ds.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}
	metrics.ObserveDatasetFinished(ds.Type())
	s.logger.Info("dataset imported", zap.String("dataset", ds.Key()), zap.Int64("rows", n))
	writeJSON(w, http.StatusCreated, describe(ds))
}

// loadDataset resolves {key}, writing the error response itself when it fails.
func (s *Server) loadDataset(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	key := chi.URLParam(r, "key")
	if err := s.validate.Var(key, "required,hexadecimal,len=64"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid dataset key")
		return nil, false
	}
	ds, err := s.datasets.Get(r.Context(), key)
	if errors.Is(err, dataset.ErrNotFound) {
		writeError(w, http.StatusNotFound, "dataset not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("load dataset failed", zap.String("dataset", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load dataset")
		return nil, false
	}
	return ds, true
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, describe(ds))
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	completion, path := ds.CheckCompletion()
	switch completion {
	case dataset.NotReady:
		writeError(w, http.StatusConflict, "dataset is not finished")
	case dataset.Empty:
		writeError(w, http.StatusNotFound, "dataset finished without results")
	default:
		http.ServeFile(w, r, path)
	}
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	if err := ds.Delete(r.Context()); err != nil {
		s.logger.Error("delete dataset failed", zap.String("dataset", ds.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete dataset")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getGenealogy(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	chain, err := ds.Genealogy(r.Context())
	if err != nil {
		s.logger.Error("genealogy failed", zap.String("dataset", ds.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve genealogy")
		return
	}
	entries := make([]genealogyEntry, 0, len(chain))
	keys := make([]string, 0, len(chain))
	for _, d := range chain {
		entries = append(entries, genealogyEntry{Key: d.Key(), Type: d.Type(), Label: d.Label()})
		keys = append(keys, d.Key())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"genealogy":   entries,
		"breadcrumbs": strings.Join(keys, dataset.BreadcrumbSeparator),
	})
}

func (s *Server) listProcessors(w http.ResponseWriter, r *http.Request) {
	ds, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	available, err := s.registry.Available(r.Context(), ds)
	if err != nil {
		s.logger.Error("list processors failed", zap.String("dataset", ds.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list processors")
		return
	}
	if available == nil {
		available = []processor.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"processors": available})
}

// runProcessor creates the child dataset for processor {id} and queues its job.
func (s *Server) runProcessor(w http.ResponseWriter, r *http.Request) {
	parent, ok := s.loadDataset(w, r)
	if !ok {
		return
	}
	if !parent.IsFinished() {
		writeError(w, http.StatusConflict, "dataset is not finished")
		return
	}
	var req runProcessorRequest
	if r.ContentLength != 0 {
		if err := s.decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	id := chi.URLParam(r, "id")
	proc, err := s.registry.CheckAvailable(r.Context(), parent, id)
	switch {
	case errors.Is(err, processor.ErrUnknownProcessor):
		writeError(w, http.StatusNotFound, "processor not found")
		return
	case errors.Is(err, processor.ErrIncompatible):
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("processor %s is not available for this dataset", id))
		return
	case err != nil:
		s.logger.Error("check processor failed", zap.String("processor", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to check processor")
		return
	}
	opts, err := proc.ResolveOptions(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	child, err := s.datasets.GetOrCreate(r.Context(), dataset.CreateRequest{
		Parameters: opts,
		Type:       proc.ID,
		Parent:     parent,
		Extension:  proc.Extension,
	})
	if err != nil {
		s.logger.Error("create child dataset failed", zap.String("parent", parent.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create dataset")
		return
	}
	s.queueDataset(w, r, child)
}
