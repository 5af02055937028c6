// Package dispatch is the crawl dispatcher: the HTTP surface that turns
// a batch crawl request into a CrawlJob aggregate and one queued message
// per spider, and carries the subscription lifecycle endpoints.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gazeta-aberta/gazeta/internal/config"
	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/queue"
	"github.com/gazeta-aberta/gazeta/internal/registry"
	"github.com/gazeta-aberta/gazeta/internal/spider"
	"github.com/gazeta-aberta/gazeta/pkg/version"
)

const dateLayout = "2006-01-02"

// JobStore is the crawl-job surface of the registry the dispatcher
// writes to and reads back.
type JobStore interface {
	CreateJob(ctx context.Context, job *gazette.CrawlJob) error
	GetJob(ctx context.Context, id string) (*gazette.CrawlJob, error)
	SetJobStatus(ctx context.Context, id string, status gazette.JobStatus) error
	MarkSpiderDone(ctx context.Context, jobID string, failed bool) error
	RecordProgress(ctx context.Context, ev gazette.ProgressEvent) error
	ListProgress(ctx context.Context, jobID string) ([]gazette.ProgressEvent, error)
}

// SubscriptionStore is the subscription lifecycle surface of the registry.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *gazette.Subscription) error
	ListSubscriptions(ctx context.Context) ([]gazette.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Publisher enqueues crawl messages in batches with individual fallback.
type Publisher interface {
	PublishBatch(ctx context.Context, stage queue.Stage, payloads []any, chunk int) []queue.BatchFailure
}

// SubscriberCache is invalidated after subscription writes so the
// webhook stage sees them without waiting out its TTL.
type SubscriberCache interface {
	Invalidate()
}

// ServerDeps collects the dispatcher's collaborators. Cache is optional;
// without one, subscription writes become visible when the webhook
// stage's own cache expires.
type ServerDeps struct {
	Jobs          JobStore
	Subscriptions SubscriptionStore
	Queue         Publisher
	Catalog       *spider.Catalog
	Cache         SubscriberCache
	Config        config.CrawlConfig
	Logger        *slog.Logger
}

// Server handles the dispatcher HTTP API.
type Server struct {
	jobs     JobStore
	subs     SubscriptionStore
	queue    Publisher
	catalog  *spider.Catalog
	cache    SubscriberCache
	config   config.CrawlConfig
	logger   *slog.Logger
	validate *validator.Validate
}

// NewServer builds the dispatcher from its dependencies.
func NewServer(d ServerDeps) *Server {
	return &Server{
		jobs:     d.Jobs,
		subs:     d.Subscriptions,
		queue:    d.Queue,
		catalog:  d.Catalog,
		cache:    d.Cache,
		config:   d.Config,
		logger:   d.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the dispatcher's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleInfo)
	r.Post("/crawl", s.handleCrawl)
	r.Get("/crawl/jobs/{id}", s.handleJob)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", s.handleCreateSubscription)
		r.Get("/", s.handleListSubscriptions)
		r.Delete("/{id}", s.handleDeleteSubscription)
	})

	return r
}

// CityList is the request's cities field: the literal string "all" or an
// explicit list of spider or territory ids.
type CityList struct {
	IDs []string
	All bool
}

// UnmarshalJSON accepts either form of the field.
func (c *CityList) UnmarshalJSON(data []byte) error {
	var keyword string
	if err := json.Unmarshal(data, &keyword); err == nil {
		if !strings.EqualFold(keyword, "all") {
			return fmt.Errorf("cities: unknown keyword %q", keyword)
		}

		c.All = true

		return nil
	}

	if err := json.Unmarshal(data, &c.IDs); err != nil {
		return errors.New(`cities must be "all" or a list of ids`)
	}

	return nil
}

// MarshalJSON emits the same wire forms UnmarshalJSON accepts.
func (c CityList) MarshalJSON() ([]byte, error) {
	if c.All {
		return json.Marshal("all")
	}

	return json.Marshal(c.IDs)
}

// CrawlRequest is the POST /crawl body.
type CrawlRequest struct {
	Cities      CityList `json:"cities"      validate:"required"`
	StartDate   string   `json:"startDate"   validate:"omitempty,datetime=2006-01-02"`
	EndDate     string   `json:"endDate"     validate:"omitempty,datetime=2006-01-02"`
	ScopeFilter string   `json:"scopeFilter" validate:"omitempty,oneof=city state"`
}

// CrawlResponse is the POST /crawl reply.
type CrawlResponse struct {
	Success       bool     `json:"success"`
	TasksEnqueued int      `json:"tasksEnqueued"`
	Cities        []string `json:"cities,omitempty"`
	CrawlJobID    string   `json:"crawlJobId,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondCrawlError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %s", err))

		return
	}

	resp, status := s.Dispatch(r.Context(), req)
	respondJSON(w, status, resp)
}

// Dispatch validates req, opens a CrawlJob, and enqueues one crawl task
// per resolved spider. The returned status classifies the outcome the
// way POST /crawl reports it; the MCP trigger_crawl tool shares this
// path.
func (s *Server) Dispatch(ctx context.Context, req CrawlRequest) (CrawlResponse, int) {
	if err := s.validate.Struct(req); err != nil {
		return CrawlResponse{Error: validationMessage(err)}, http.StatusBadRequest
	}

	configs, err := s.resolveSpiders(req)
	if err != nil {
		return CrawlResponse{Error: err.Error()}, http.StatusBadRequest
	}

	dates, err := window(req, s.config.DefaultDays)
	if err != nil {
		return CrawlResponse{Error: err.Error()}, http.StatusBadRequest
	}

	job := &gazette.CrawlJob{
		ID:           uuid.NewString(),
		Status:       gazette.JobPending,
		TotalSpiders: len(configs),
		StartDate:    dates.Start,
		EndDate:      dates.End,
		ScopeFilter:  req.ScopeFilter,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "create crawl job failed", "error", err)

		return CrawlResponse{Error: "could not create crawl job"}, http.StatusInternalServerError
	}

	if err := s.jobs.RecordProgress(ctx, gazette.ProgressEvent{
		JobID:  job.ID,
		Stage:  gazette.ProgressCrawlStart,
		Status: gazette.ProgressOK,
		Detail: map[string]string{"spiders": strconv.Itoa(len(configs))},
	}); err != nil {
		s.logger.WarnContext(ctx, "progress write failed", "job_id", job.ID, "error", err)
	}

	payloads := make([]any, 0, len(configs))
	cities := make([]string, 0, len(configs))

	for _, cfg := range configs {
		cities = append(cities, cfg.ID)
		payloads = append(payloads, queue.CrawlMessage{
			SpiderID:     cfg.ID,
			TerritoryID:  cfg.TerritoryID,
			SpiderType:   cfg.SpiderType,
			GazetteScope: cfg.Scope,
			Config:       cfg,
			DateRange:    dates,
			Metadata:     queue.CrawlMetadata{CrawlJobID: job.ID},
		})
	}

	failures := s.queue.PublishBatch(ctx, queue.StageCrawl, payloads, s.config.BatchSize)
	enqueued := len(payloads) - len(failures)

	resp := CrawlResponse{
		Success:       len(failures) == 0,
		TasksEnqueued: enqueued,
		Cities:        cities,
		CrawlJobID:    job.ID,
	}

	switch {
	case len(failures) == 0:
		s.logger.InfoContext(ctx, "crawl job dispatched",
			"job_id", job.ID, "spiders", len(payloads),
			"start", dates.Start.Format(dateLayout), "end", dates.End.Format(dateLayout))

		return resp, http.StatusOK
	case enqueued > 0:
		// Spiders whose message never made it onto the stream will not
		// report back; count them out now so the job can still complete.
		for range failures {
			if err := s.jobs.MarkSpiderDone(ctx, job.ID, true); err != nil {
				s.logger.WarnContext(ctx, "job bookkeeping failed", "job_id", job.ID, "error", err)

				break
			}
		}

		resp.Error = fmt.Sprintf("%d of %d crawl tasks failed to enqueue", len(failures), len(payloads))
		s.logger.WarnContext(ctx, "crawl job partially dispatched",
			"job_id", job.ID, "enqueued", enqueued, "failed", len(failures))

		return resp, http.StatusMultiStatus
	default:
		if err := s.jobs.SetJobStatus(ctx, job.ID, gazette.JobFailed); err != nil {
			s.logger.WarnContext(ctx, "job bookkeeping failed", "job_id", job.ID, "error", err)
		}

		resp.Error = "could not enqueue any crawl task"
		s.logger.ErrorContext(ctx, "crawl job dispatch failed",
			"job_id", job.ID, "error", failures[0].Err)

		return resp, http.StatusInternalServerError
	}
}

// resolveSpiders maps the requested cities onto catalog configurations.
// An id matches a spider id first, then any spiders for that territory.
// Unknown ids are rejected rather than silently skipped.
func (s *Server) resolveSpiders(req CrawlRequest) ([]spider.Config, error) {
	var configs []spider.Config

	if req.Cities.All {
		configs = s.catalog.Spiders()
	} else {
		seen := make(map[string]struct{})

		for _, id := range req.Cities.IDs {
			matched := s.spidersFor(id)
			if len(matched) == 0 {
				return nil, fmt.Errorf("unknown city or spider %q", id)
			}

			for _, cfg := range matched {
				if _, dup := seen[cfg.ID]; dup {
					continue
				}

				seen[cfg.ID] = struct{}{}
				configs = append(configs, cfg)
			}
		}
	}

	if req.ScopeFilter != "" {
		want := spider.Scope(req.ScopeFilter)
		configs = slices.DeleteFunc(configs, func(cfg spider.Config) bool {
			return cfg.Scope != want
		})
	}

	if len(configs) == 0 {
		return nil, errors.New("no spiders matched the request")
	}

	return configs, nil
}

func (s *Server) spidersFor(id string) []spider.Config {
	if cfg, ok := s.catalog.Spider(id); ok {
		return []spider.Config{cfg}
	}

	var out []spider.Config

	for _, cfg := range s.catalog.Spiders() {
		if cfg.TerritoryID == id {
			out = append(out, cfg)
		}
	}

	return out
}

// window resolves the crawl date range. Defaults cover the last
// defaultDays days ending today; an explicit inverted range is allowed
// and yields no gazettes downstream.
func window(req CrawlRequest, defaultDays int) (spider.DateRange, error) {
	end := midnightUTC(time.Now())

	if req.EndDate != "" {
		parsed, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return spider.DateRange{}, fmt.Errorf("parse endDate: %w", err)
		}

		end = parsed
	}

	start := end.AddDate(0, 0, -defaultDays)

	if req.StartDate != "" {
		parsed, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			return spider.DateRange{}, fmt.Errorf("parse startDate: %w", err)
		}

		start = parsed
	}

	return spider.DateRange{Start: start, End: end}, nil
}

func midnightUTC(t time.Time) time.Time {
	year, month, day := t.UTC().Date()

	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// JobStatusResponse is the GET /crawl/jobs/{id} reply: the aggregate row
// plus its progress log.
type JobStatusResponse struct {
	Job      *gazette.CrawlJob       `json:"job"`
	Progress []gazette.ProgressEvent `json:"progress"`
}

// JobStatus loads a job aggregate together with its progress log.
func (s *Server) JobStatus(ctx context.Context, id string) (*JobStatusResponse, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	progress, err := s.jobs.ListProgress(ctx, id)
	if err != nil {
		return nil, err
	}

	return &JobStatusResponse{Job: job, Progress: progress}, nil
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	resp, err := s.JobStatus(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		respondError(w, http.StatusNotFound, "crawl job not found")

		return
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "load crawl job failed", "job_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "could not load crawl job")

		return
	}

	respondJSON(w, http.StatusOK, *resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "gazeta",
		"status":  "ok",
		"version": version.Version,
		"spiders": len(s.catalog.Spiders()),
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// respondJSON marshals first so an encode failure never truncates a body
// mid-write.
func respondJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		return
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

func respondCrawlError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, CrawlResponse{Error: msg})
}

// validationMessage flattens validator errors into one response line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}

	return strings.Join(parts, "; ")
}
