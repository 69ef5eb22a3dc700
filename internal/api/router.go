package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/appointment"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/distribution"
	"github.com/hackgods/clinic-capacity-engine/internal/matcher"
	"github.com/hackgods/clinic-capacity-engine/internal/priority"
)

type Matcher interface {
	Match(ctx context.Context, req matcher.Request) (*matcher.Result, error)
	Suggest(ctx context.Context, c matcher.Criteria) ([]matcher.Candidate, int, error)
}

type Queue interface {
	EnqueueAssessed(ctx context.Context, patientID, specialtyID uuid.UUID, a priority.Assessment, reason string) (*capacity.QueueEntry, int, error)
	DequeueNext(ctx context.Context, specialtyID uuid.UUID) (*capacity.QueueEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*priority.Placement, error)
	Cancel(ctx context.Context, id uuid.UUID) (*capacity.QueueEntry, error)
	List(ctx context.Context, specialtyID *uuid.UUID) ([]capacity.QueueEntry, error)
	Worsening(ctx context.Context, id uuid.UUID) (*capacity.QueueEntry, bool, error)
}

type Priorities interface {
	SetPriority(ctx context.Context, req priority.SetRequest) (*priority.Outcome, error)
	Active(ctx context.Context, status string, limit int) (*priority.ActiveView, error)
}

type Conflicts interface {
	Detect(ctx context.Context, req conflict.DetectRequest) (*conflict.Report, error)
	Resolve(ctx context.Context, req conflict.ResolveRequest) (*capacity.ConflictResolution, error)
	Resolutions(ctx context.Context, limit, offset int) (*conflict.ResolutionPage, error)
}

type Batches interface {
	Create(ctx context.Context, req distribution.Request) (*distribution.Result, error)
	Get(ctx context.Context, id uuid.UUID) (*distribution.BatchView, error)
	List(ctx context.Context, limit, offset int) (*distribution.BatchPage, error)
	Delete(ctx context.Context, id uuid.UUID) (capacity.BatchDeletion, error)
}

type Appointments interface {
	Book(ctx context.Context, req appointment.BookRequest) (*capacity.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) (*capacity.Appointment, error)
	ListBySlot(ctx context.Context, slotID uuid.UUID) ([]capacity.Appointment, error)
}

type RouterConfig struct {
	Matcher      Matcher
	Queue        Queue
	Priorities   Priorities
	Conflicts    Conflicts
	Batches      Batches
	Appointments Appointments
	Health       *HealthHandler
	Log          zerolog.Logger

	// MinutesPerPosition turns a queue position into a wait estimate.
	MinutesPerPosition int
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{
		cfg:      cfg,
		validate: NewValidator(),
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/assignments", func(r chi.Router) {
		r.Post("/match", h.match)
		r.Post("/suggestions", h.suggestions)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.bookAppointment)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/confirm", h.confirmAppointment)
		r.Post("/{id}/complete", h.completeAppointment)
		r.Post("/{id}/cancel", h.cancelAppointment)
	})
	r.Get("/slots/{id}/appointments", h.slotAppointments)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/", h.enqueue)
		r.Get("/", h.listQueue)
		r.Post("/next", h.dequeue)
		r.Get("/{id}", h.getQueueEntry)
		r.Delete("/{id}", h.cancelQueueEntry)
		r.Post("/{id}/worsening", h.worsening)
	})

	r.Route("/priorities", func(r chi.Router) {
		r.Post("/", h.setPriority)
		r.Get("/active", h.activePriorities)
	})

	r.Route("/conflicts", func(r chi.Router) {
		r.Get("/detect", h.detectConflicts)
		r.Post("/detect", h.detectConflicts)
		r.Post("/resolve", h.resolveConflict)
		r.Get("/resolutions", h.resolutions)
	})

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.createBatch)
		r.Get("/", h.listBatches)
		r.Get("/{id}", h.getBatch)
		r.Delete("/{id}", h.deleteBatch)
	})

	return r
}
