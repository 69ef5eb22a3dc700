package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/apperr"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
)

const (
	MinSlotDuration = 5
	MaxSlotDuration = 120

	// maxRangeDays keeps a single batch to about a year of slots.
	maxRangeDays = 366

	defaultListLimit = 20
	maxListLimit     = 100
)

type Store interface {
	capacity.BatchStore
	CreateSlot(ctx context.Context, s *capacity.Slot) error
	ListDoctorSlotsOn(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]capacity.Slot, error)
	capacity.EventStore
}

// Service generates batches of availability slots spread over the working
// days of a date range.
type Service struct {
	store    Store
	holidays capacity.HolidayCalendar
	locker   redisclient.Locker
	intn     func(n int) int
	log      zerolog.Logger
}

func NewService(store Store, holidays capacity.HolidayCalendar, locker redisclient.Locker, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		holidays: holidays,
		locker:   locker,
		intn:     rand.IntN,
		log:      log.With().Str("component", "distribution").Logger(),
	}
}

type Request struct {
	DoctorID            uuid.UUID
	LocationID          uuid.UUID
	SpecialtyID         uuid.UUID
	StartDate           time.Time
	EndDate             time.Time
	StartTime           capacity.Clock
	EndTime             capacity.Clock
	TotalCapacity       int
	SlotDurationMinutes int
	ExcludeWeekends     bool
	ExcludeHolidays     bool
	CustomExcludedDates []time.Time
	Mode                Mode
	// MaxDailyAppointments of zero means no daily limit.
	MaxDailyAppointments int
	Notes                string
}

type SkippedDay struct {
	Date     string `json:"date"`
	Capacity int    `json:"capacity"`
	Reason   string `json:"reason"`
}

type Result struct {
	Batch   *capacity.Batch `json:"batch"`
	Skipped []SkippedDay    `json:"skipped_days"`
}

func validate(req Request) error {
	fields := map[string]string{}
	if req.DoctorID == uuid.Nil {
		fields["doctor_id"] = "required"
	}
	if req.LocationID == uuid.Nil {
		fields["location_id"] = "required"
	}
	if req.SpecialtyID == uuid.Nil {
		fields["specialty_id"] = "required"
	}
	if req.EndDate.Before(req.StartDate) {
		fields["end_date"] = "must not be before start_date"
	} else if capacity.DaysBetween(req.StartDate, req.EndDate) >= maxRangeDays {
		fields["end_date"] = fmt.Sprintf("range must be shorter than %d days", maxRangeDays)
	}
	if req.EndTime <= req.StartTime {
		fields["end_time"] = "must be after start_time"
	}
	if req.TotalCapacity < 1 {
		fields["total_capacity"] = "must be at least 1"
	}
	if req.SlotDurationMinutes < MinSlotDuration || req.SlotDurationMinutes > MaxSlotDuration {
		fields["slot_duration_minutes"] = fmt.Sprintf("must be between %d and %d", MinSlotDuration, MaxSlotDuration)
	}
	if !req.Mode.Valid() {
		fields["distribution_mode"] = "must be random or balanced"
	}
	if req.MaxDailyAppointments < 0 {
		fields["max_daily_appointments"] = "must not be negative"
	}
	if len(fields) > 0 {
		return apperr.ValidationFields(fields)
	}
	return nil
}

// Create distributes the request's capacity over its working days and
// creates one slot per day with a positive share. Days are inserted one at
// a time: a day that overlaps an existing slot of the doctor or fails to
// insert is skipped and reported, and earlier days stay committed.
func (s *Service) Create(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var res *Result
	err := s.locker.WithLock(ctx, redisclient.DoctorLockKey(req.DoctorID), func(ctx context.Context) error {
		var err error
		res, err = s.create(ctx, req)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, apperr.Conflict("batch_in_progress", "another batch is being generated for this doctor")
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) create(ctx context.Context, req Request) (*Result, error) {
	ex := Exclusions{Weekends: req.ExcludeWeekends, Custom: map[time.Time]bool{}}
	for _, d := range req.CustomExcludedDates {
		ex.Custom[capacity.DateOf(d)] = true
	}
	if req.ExcludeHolidays {
		list, err := s.holidays.ListHolidays(ctx, req.StartDate, req.EndDate)
		if err != nil {
			return nil, apperr.Internal("load holidays", err)
		}
		ex.Holidays = make(map[time.Time]bool, len(list))
		for _, d := range list {
			ex.Holidays[capacity.DateOf(d)] = true
		}
	}

	days := WorkingDays(req.StartDate, req.EndDate, ex)
	if len(days) == 0 {
		return nil, apperr.Validation("no_working_days", "no working days in the selected range")
	}

	var counts []int
	var err error
	switch req.Mode {
	case ModeBalanced:
		counts, err = Balanced(req.TotalCapacity, len(days), req.MaxDailyAppointments)
	default:
		counts, err = Random(req.TotalCapacity, len(days), req.MaxDailyAppointments, s.intn)
	}
	if err != nil {
		return nil, apperr.ValidationFields(map[string]string{"max_daily_appointments": err.Error()})
	}

	batch := &capacity.Batch{
		DoctorID:      req.DoctorID,
		LocationID:    req.LocationID,
		SpecialtyID:   req.SpecialtyID,
		StartDate:     capacity.DateOf(req.StartDate),
		EndDate:       capacity.DateOf(req.EndDate),
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		TotalCapacity: req.TotalCapacity,
		WorkingDays:   len(days),
		Mode:          string(req.Mode),
		Distribution:  make(map[string]int, len(days)),
		Notes:         req.Notes,
	}
	for i, d := range days {
		batch.Distribution[d.Format(capacity.DateLayout)] = counts[i]
	}

	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, apperr.Internal("create batch", err)
	}

	log := s.log.With().Str("batch_id", batch.ID.String()).Str("doctor_id", req.DoctorID.String()).Logger()
	skipped := []SkippedDay{}

	var runErr error
	for i, day := range days {
		if counts[i] == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		reason, err := s.createDay(ctx, batch, req, day, counts[i])
		if err != nil {
			log.Warn().Err(err).Str("date", day.Format(capacity.DateLayout)).Msg("create batch slot")
			reason = "insert failed"
		}
		if reason != "" {
			skipped = append(skipped, SkippedDay{Date: day.Format(capacity.DateLayout), Capacity: counts[i], Reason: reason})
			continue
		}
		batch.CreatedSlots++
	}

	// Record what was committed even if the caller went away.
	if err := s.store.SetBatchCreatedSlots(context.WithoutCancel(ctx), batch.ID, batch.CreatedSlots); err != nil {
		log.Error().Err(err).Msg("update batch slot count")
	}

	if runErr != nil {
		log.Warn().Err(runErr).Int("created_slots", batch.CreatedSlots).Msg("batch generation interrupted")
		return nil, runErr
	}

	capacity.LogEvent(ctx, s.store, log, capacity.EventBatchCreated, batch.ID, map[string]any{
		"doctor_id":     req.DoctorID.String(),
		"mode":          batch.Mode,
		"created_slots": batch.CreatedSlots,
		"skipped_days":  len(skipped),
	})

	log.Info().
		Str("mode", batch.Mode).
		Int("total_capacity", batch.TotalCapacity).
		Int("working_days", batch.WorkingDays).
		Int("created_slots", batch.CreatedSlots).
		Int("skipped_days", len(skipped)).
		Msg("batch created")

	return &Result{Batch: batch, Skipped: skipped}, nil
}

// createDay returns a non-empty reason when the day is skipped on purpose.
func (s *Service) createDay(ctx context.Context, batch *capacity.Batch, req Request, day time.Time, units int) (string, error) {
	slot := &capacity.Slot{
		DoctorID:        req.DoctorID,
		LocationID:      req.LocationID,
		SpecialtyID:     req.SpecialtyID,
		Date:            day,
		Start:           req.StartTime,
		End:             req.EndTime,
		Capacity:        units,
		DurationMinutes: req.SlotDurationMinutes,
		Status:          capacity.SlotActive,
		BatchID:         &batch.ID,
	}

	existing, err := s.store.ListDoctorSlotsOn(ctx, req.DoctorID, day)
	if err != nil {
		return "", err
	}
	for _, o := range existing {
		if slot.Overlaps(o) {
			return fmt.Sprintf("overlaps slot %s (%s-%s)", o.ID, o.Start, o.End), nil
		}
	}

	return "", s.store.CreateSlot(ctx, slot)
}

type Statistics struct {
	TotalSlots      int     `json:"total_slots"`
	TotalCapacity   int     `json:"total_capacity"`
	Booked          int     `json:"booked"`
	UtilizationRate float64 `json:"utilization_rate"`
}

type BatchView struct {
	Batch      *capacity.Batch `json:"batch"`
	Slots      []capacity.Slot `json:"slots"`
	Statistics Statistics      `json:"statistics"`
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*BatchView, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, capacity.ErrBatchNotFound) {
			return nil, apperr.NotFound("batch_not_found", "batch not found")
		}
		return nil, apperr.Internal("load batch", err)
	}

	slots, err := s.store.ListSlotsByBatch(ctx, id)
	if err != nil {
		return nil, apperr.Internal("list batch slots", err)
	}
	if slots == nil {
		slots = []capacity.Slot{}
	}

	st := Statistics{TotalSlots: len(slots)}
	for _, sl := range slots {
		st.TotalCapacity += sl.Capacity
		st.Booked += sl.Booked
	}
	if st.TotalCapacity > 0 {
		st.UtilizationRate = float64(st.Booked) / float64(st.TotalCapacity) * 100
	}

	return &BatchView{Batch: b, Slots: slots, Statistics: st}, nil
}

type BatchPage struct {
	Batches []capacity.Batch `json:"batches"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

func (s *Service) List(ctx context.Context, limit, offset int) (*BatchPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.store.ListBatches(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list batches", err)
	}
	if list == nil {
		list = []capacity.Batch{}
	}
	return &BatchPage{Batches: list, Total: total, Limit: limit, Offset: offset}, nil
}

// Delete rolls a batch back: its slots, their appointments and the batch
// record go in one transaction.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (capacity.BatchDeletion, error) {
	out, err := s.store.DeleteBatch(ctx, id)
	if err != nil {
		if errors.Is(err, capacity.ErrBatchNotFound) {
			return out, apperr.NotFound("batch_not_found", "batch not found")
		}
		return out, apperr.Internal("delete batch", err)
	}

	capacity.LogEvent(ctx, s.store, s.log, capacity.EventBatchDeleted, id, map[string]any{
		"deleted_slots":        out.Slots,
		"deleted_appointments": out.Appointments,
	})
	s.log.Info().
		Str("batch_id", id.String()).
		Int("deleted_slots", out.Slots).
		Int("deleted_appointments", out.Appointments).
		Msg("batch deleted")

	return out, nil
}
