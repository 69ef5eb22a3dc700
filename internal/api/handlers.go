package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/appointment"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
)

type handlers struct {
	cfg      RouterConfig
	validate *Validator
}

// Assignments

func (h *handlers) match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.cfg.Matcher.Match(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Queued() {
		status = http.StatusAccepted
	}
	writeJSON(w, status, matchResponse(res))
}

func (h *handlers) suggestions(w http.ResponseWriter, r *http.Request) {
	var req SearchFields
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cands, total, err := h.cfg.Matcher.Suggest(r.Context(), req.criteria())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestionsResponse(cands, total))
}

// Appointments

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := appointment.BookRequest{
		SlotID:          uuid.MustParse(req.SlotID),
		PatientID:       uuid.MustParse(req.PatientID),
		DurationMinutes: req.DurationMinutes,
		Level:           capacity.PriorityLevel(req.PriorityLevel),
		AppointmentType: req.AppointmentType,
		Reason:          req.Reason,
		Notes:           req.Notes,
	}
	if req.AppointmentType == "" {
		in.AppointmentType = "Presencial"
	}
	if req.StartTime != "" {
		c := capacity.MustClock(req.StartTime)
		in.StartTime = &c
	}

	appt, err := h.cfg.Appointments.Book(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

type appointmentFunc func(r *http.Request, id uuid.UUID) (*capacity.Appointment, error)

func (h *handlers) appointmentAction(fn appointmentFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		appt, err := fn(r, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(func(r *http.Request, id uuid.UUID) (*capacity.Appointment, error) {
		return h.cfg.Appointments.Get(r.Context(), id)
	})(w, r)
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(func(r *http.Request, id uuid.UUID) (*capacity.Appointment, error) {
		return h.cfg.Appointments.Confirm(r.Context(), id)
	})(w, r)
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(func(r *http.Request, id uuid.UUID) (*capacity.Appointment, error) {
		return h.cfg.Appointments.Complete(r.Context(), id)
	})(w, r)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	h.appointmentAction(func(r *http.Request, id uuid.UUID) (*capacity.Appointment, error) {
		return h.cfg.Appointments.Cancel(r.Context(), id)
	})(w, r)
}

func (h *handlers) slotAppointments(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.cfg.Appointments.ListBySlot(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// Queue

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	entry, pos, err := h.cfg.Queue.EnqueueAssessed(r.Context(),
		uuid.MustParse(req.PatientID), uuid.MustParse(req.SpecialtyID), req.toAssessment(), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PlacementResponse{
		Entry:                entry,
		Position:             pos,
		EstimatedWaitMinutes: pos * h.cfg.MinutesPerPosition,
	})
}

func (h *handlers) listQueue(w http.ResponseWriter, r *http.Request) {
	var specialty *uuid.UUID
	if raw := r.URL.Query().Get("specialty_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, apperr.ValidationFields(map[string]string{"specialty_id": "must be a valid UUID"}))
			return
		}
		specialty = &id
	}

	list, err := h.cfg.Queue.List(r.Context(), specialty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []capacity.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": list, "total": len(list)})
}

func (h *handlers) dequeue(w http.ResponseWriter, r *http.Request) {
	var req DequeueRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.cfg.Queue.DequeueNext(r.Context(), uuid.MustParse(req.SpecialtyID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) getQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.cfg.Queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlacementResponse{
		Entry:                p.Entry,
		Position:             p.Position,
		EstimatedWaitMinutes: p.Position * h.cfg.MinutesPerPosition,
	})
}

func (h *handlers) cancelQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := h.cfg.Queue.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) worsening(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, triggered, err := h.cfg.Queue.Worsening(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WorseningResponse{Entry: entry, Triggered: triggered})
}

// Priorities

func (h *handlers) setPriority(w http.ResponseWriter, r *http.Request) {
	var req SetPriorityRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.cfg.Priorities.SetPriority(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handlers) activePriorities(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := r.URL.Query().Get("status")
	if status != "" && status != capacity.PriorityActive && status != capacity.PriorityPending {
		writeError(w, r, apperr.ValidationFields(map[string]string{"status": "must be active or pending"}))
		return
	}

	view, err := h.cfg.Priorities.Active(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Conflicts

func (h *handlers) detectConflicts(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req = DetectRequest{
			DateFrom: q.Get("date_from"),
			DateTo:   q.Get("date_to"),
			DoctorID: q.Get("doctor_id"),
			AutoFix:  q.Get("auto_fix") == "true",
		}
		if err := h.validate.Struct(&req); err != nil {
			writeError(w, r, err)
			return
		}
	} else if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	report, err := h.cfg.Conflicts.Detect(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// operator identifies who applied a resolution.
func operator(r *http.Request) string {
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return "api"
}

func (h *handlers) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.cfg.Conflicts.Resolve(r.Context(), req.toRequest(operator(r)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflict_id": rec.SlotID,
		"resolution":  rec,
	})
}

func (h *handlers) resolutions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.cfg.Conflicts.Resolutions(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Batches

func (h *handlers) createBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.cfg.Batches.Create(r.Context(), req.toRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse(res))
}

func (h *handlers) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.cfg.Batches.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.cfg.Batches.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) deleteBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.cfg.Batches.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": id, "deleted": out})
}
