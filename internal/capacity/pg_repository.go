package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-capacity-engine/internal/db"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Store = (*PgRepository)(nil)

func (r *PgRepository) q(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// Helpers

func pgClock(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * int64(time.Minute/time.Microsecond), Valid: true}
}

func clockFromPg(t pgtype.Time) Clock {
	return Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const slotColumns = `id, doctor_id, location_id, specialty_id, slot_date, start_time, end_time,
	capacity, booked_slots, duration_minutes, status, batch_id, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.LocationID,
		&s.SpecialtyID,
		&s.Date,
		&start,
		&end,
		&s.Capacity,
		&s.Booked,
		&s.DurationMinutes,
		&s.Status,
		&s.BatchID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = DateOf(s.Date)
	s.Start = clockFromPg(start)
	s.End = clockFromPg(end)
	return &s, nil
}

const appointmentColumns = `id, patient_id, slot_id, doctor_id, location_id, specialty_id, scheduled_at,
	duration_minutes, status, priority_level, appointment_type, manual, reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.SlotID,
		&a.DoctorID,
		&a.LocationID,
		&a.SpecialtyID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.PriorityLevel,
		&a.AppointmentType,
		&a.Manual,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const queueColumns = `id, patient_id, specialty_id, priority_level, priority_score, reason, status,
	escalated_at, assigned_at, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.SpecialtyID,
		&e.Level,
		&e.Score,
		&e.Reason,
		&e.Status,
		&e.EscalatedAt,
		&e.AssignedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}

	return &e, nil
}

const priorityColumns = `id, patient_id, appointment_id, priority_level, priority_score, reason, symptoms,
	pain_level, medical_conditions, vital_signs, requires_immediate_attention, preferred_specialty_id,
	preferred_doctor_id, expected_response_minutes, status, created_at`

func scanPriority(row pgx.Row) (*PriorityRecord, error) {
	var p PriorityRecord

	err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.AppointmentID,
		&p.Level,
		&p.Score,
		&p.Reason,
		&p.Symptoms,
		&p.PainLevel,
		&p.MedicalConditions,
		&p.VitalSigns,
		&p.RequiresImmediateAttention,
		&p.PreferredSpecialtyID,
		&p.PreferredDoctorID,
		&p.ExpectedResponseMinutes,
		&p.Status,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func scanResolution(row pgx.Row) (*ConflictResolution, error) {
	var c ConflictResolution

	err := row.Scan(&c.ID, &c.SlotID, &c.Type, &c.Data, &c.Notes, &c.ResolvedBy, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

const batchColumns = `id, doctor_id, location_id, specialty_id, start_date, end_date, start_time, end_time,
	total_capacity, working_days, distribution_mode, distribution, created_slots, notes, created_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	var start, end pgtype.Time

	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.LocationID,
		&b.SpecialtyID,
		&b.StartDate,
		&b.EndDate,
		&start,
		&end,
		&b.TotalCapacity,
		&b.WorkingDays,
		&b.Mode,
		&b.Distribution,
		&b.CreatedSlots,
		&b.Notes,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	b.StartDate = DateOf(b.StartDate)
	b.EndDate = DateOf(b.EndDate)
	b.StartTime = clockFromPg(start)
	b.EndTime = clockFromPg(end)
	return &b, nil
}

// Directory

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient

	err := r.q(ctx).QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

// Slots

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListBookableSlots(ctx context.Context, specialtyID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE specialty_id = $1
		  AND status = 'active'
		  AND slot_date BETWEEN $2 AND $3
		  AND booked_slots < capacity
		ORDER BY slot_date, start_time, id
	`, specialtyID, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE slot_date BETWEEN $1 AND $2
		  AND ($3::uuid IS NULL OR doctor_id = $3)
		ORDER BY doctor_id, slot_date, start_time, id
	`, f.From, f.To, f.DoctorID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListDoctorSlotsOn(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1 AND slot_date = $2
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) CreateSlot(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SlotActive
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO availability_slots
			(id, doctor_id, location_id, specialty_id, slot_date, start_time, end_time,
			 capacity, booked_slots, duration_minutes, status, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, s.ID, s.DoctorID, s.LocationID, s.SpecialtyID, s.Date, pgClock(s.Start), pgClock(s.End),
		s.Capacity, s.Booked, s.DurationMinutes, s.Status, s.BatchID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateSlot(ctx context.Context, s *Slot) error {
	err := r.q(ctx).QueryRow(ctx, `
		UPDATE availability_slots
		SET slot_date = $2,
		    start_time = $3,
		    end_time = $4,
		    capacity = $5,
		    booked_slots = $6,
		    status = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, s.ID, s.Date, pgClock(s.Start), pgClock(s.End), s.Capacity, s.Booked, s.Status).Scan(&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("update slot: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q(ctx).Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) IncrementBooked(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q(ctx).QueryRow(ctx, `
		UPDATE availability_slots
		SET booked_slots = booked_slots + 1,
		    status = CASE WHEN booked_slots + 1 >= capacity THEN 'full' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		  AND booked_slots < capacity
		RETURNING `+slotColumns, id)

	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		if _, getErr := r.GetSlot(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrSlotFull
	}
	return s, err
}

func (r *PgRepository) DecrementBooked(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q(ctx).QueryRow(ctx, `
		UPDATE availability_slots
		SET booked_slots = booked_slots - 1,
		    status = CASE WHEN status = 'full' THEN 'active' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		  AND booked_slots > 0
		RETURNING `+slotColumns, id)

	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		// Nothing booked: report the slot as it is.
		return r.GetSlot(ctx, id)
	}
	return s, err
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, slot_id, doctor_id, location_id, specialty_id, scheduled_at,
			 duration_minutes, status, priority_level, appointment_type, manual, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, a.ID, a.PatientID, a.SlotID, a.DoctorID, a.LocationID, a.SpecialtyID, a.ScheduledAt,
		a.DurationMinutes, a.Status, a.PriorityLevel, a.AppointmentType, a.Manual, a.Reason, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.q(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func (r *PgRepository) ListActiveAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		  AND status IN ('pending', 'confirmed')
		ORDER BY scheduled_at, id
	`, slotID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListBookedAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		  AND status <> 'cancelled'
		ORDER BY scheduled_at, id
	`, slotID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) CancelAppointmentsForSlot(ctx context.Context, slotID uuid.UUID, note string) (int, error) {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    notes = notes || $2,
		    updated_at = now()
		WHERE slot_id = $1
		  AND status IN ('pending', 'confirmed')
	`, slotID, note)
	if err != nil {
		return 0, fmt.Errorf("cancel slot appointments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) MoveAppointment(ctx context.Context, id, slotID uuid.UUID, scheduledAt time.Time) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    scheduled_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, slotID, scheduledAt)
	if err != nil {
		return fmt.Errorf("move appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListOrphanedAppointments(ctx context.Context, from time.Time) ([]Appointment, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT a.`+appointmentColumnsPrefixed+`
		FROM appointments a
		LEFT JOIN availability_slots s ON s.id = a.slot_id
		WHERE s.id IS NULL
		  AND a.status <> 'cancelled'
		  AND a.scheduled_at >= $1
		ORDER BY a.scheduled_at, a.id
	`, from)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

const appointmentColumnsPrefixed = `id, a.patient_id, a.slot_id, a.doctor_id, a.location_id, a.specialty_id,
	a.scheduled_at, a.duration_minutes, a.status, a.priority_level, a.appointment_type, a.manual, a.reason,
	a.notes, a.created_at, a.updated_at`

// Queue

func (r *PgRepository) CreateQueueEntry(ctx context.Context, e *QueueEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = QueueWaiting
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (id, patient_id, specialty_id, priority_level, priority_score, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, e.ID, e.PatientID, e.SpecialtyID, e.Level, e.Score, e.Reason, e.Status).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateWaiting
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (r *PgRepository) GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := r.q(ctx).QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE id = $1`, id)
	return scanQueueEntry(row)
}

func (r *PgRepository) ClaimNextWaiting(ctx context.Context, specialtyID uuid.UUID, at time.Time) (*QueueEntry, error) {
	row := r.q(ctx).QueryRow(ctx, `
		UPDATE queue_entries
		SET status = 'assigned',
		    assigned_at = $2,
		    updated_at = now()
		WHERE id = (
			SELECT id
			FROM queue_entries
			WHERE specialty_id = $1
			  AND status = 'waiting'
			ORDER BY priority_score DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns, specialtyID, at)

	e, err := scanQueueEntry(row)
	if errors.Is(err, ErrQueueEntryNotFound) {
		return nil, ErrQueueEmpty
	}
	return e, err
}

func (r *PgRepository) UpdateQueueEntryStatus(ctx context.Context, id uuid.UUID, from, to QueueStatus) (*QueueEntry, error) {
	row := r.q(ctx).QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+queueColumns, id, to, from)

	e, err := scanQueueEntry(row)
	if errors.Is(err, ErrQueueEntryNotFound) {
		return nil, ErrStatusChanged
	}
	return e, err
}

func (r *PgRepository) ListWaiting(ctx context.Context, specialtyID *uuid.UUID) ([]QueueEntry, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE status = 'waiting'
		  AND ($1::uuid IS NULL OR specialty_id = $1)
		ORDER BY specialty_id, priority_score DESC, created_at ASC, id ASC
	`, specialtyID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanQueueEntry)
}

func (r *PgRepository) QueuePosition(ctx context.Context, id uuid.UUID) (int, error) {
	var pos int

	err := r.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries q
		JOIN queue_entries t ON t.id = $1 AND t.status = 'waiting'
		WHERE q.specialty_id = t.specialty_id
		  AND q.status = 'waiting'
		  AND (-q.priority_score, q.created_at, q.id) <= (-t.priority_score, t.created_at, t.id)
		GROUP BY t.id
	`, id).Scan(&pos)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrQueueEntryNotFound
		}
		return 0, err
	}
	return pos, nil
}

func (r *PgRepository) CountWaitingBySpecialty(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT specialty_id, COUNT(*)
		FROM queue_entries
		WHERE status = 'waiting'
		GROUP BY specialty_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		result[id] = n
	}
	return result, rows.Err()
}

func (r *PgRepository) EscalateEntry(ctx context.Context, id uuid.UUID, level PriorityLevel, score int, at time.Time) (*QueueEntry, error) {
	row := r.q(ctx).QueryRow(ctx, `
		UPDATE queue_entries
		SET priority_level = $2,
		    priority_score = $3,
		    escalated_at = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'waiting'
		RETURNING `+queueColumns, id, level, score, at)
	return scanQueueEntry(row)
}

// Priorities

func (r *PgRepository) CreatePriority(ctx context.Context, p *PriorityRecord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO appointment_priorities
			(id, patient_id, appointment_id, priority_level, priority_score, reason, symptoms, pain_level,
			 medical_conditions, vital_signs, requires_immediate_attention, preferred_specialty_id,
			 preferred_doctor_id, expected_response_minutes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at
	`, p.ID, p.PatientID, p.AppointmentID, p.Level, p.Score, p.Reason, p.Symptoms, p.PainLevel,
		p.MedicalConditions, p.VitalSigns, p.RequiresImmediateAttention, p.PreferredSpecialtyID,
		p.PreferredDoctorID, p.ExpectedResponseMinutes, p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert priority: %w", err)
	}
	return nil
}

func (r *PgRepository) CreatePriorityAlert(ctx context.Context, a *PriorityAlert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = PriorityActive
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO priority_alerts (id, priority_id, alert_type, message, priority_score, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, a.PriorityID, a.AlertType, a.Message, a.Score, a.Status).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert priority alert: %w", err)
	}
	return nil
}

func (r *PgRepository) ListPriorities(ctx context.Context, status string, limit int) ([]PriorityRecord, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+priorityColumns+`
		FROM appointment_priorities
		WHERE status = $1
		ORDER BY priority_score DESC, created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPriority)
}

// Resolutions

func (r *PgRepository) InsertResolution(ctx context.Context, c *ConflictResolution) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO conflict_resolutions (id, slot_id, resolution_type, resolution_data, notes, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING resolved_at
	`, c.ID, c.SlotID, c.Type, c.Data, c.Notes, c.ResolvedBy).Scan(&c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

func (r *PgRepository) ListResolutions(ctx context.Context, limit, offset int) ([]ConflictResolution, int, error) {
	var total int
	if err := r.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM conflict_resolutions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.q(ctx).Query(ctx, `
		SELECT id, slot_id, resolution_type, resolution_data, notes, resolved_by, resolved_at
		FROM conflict_resolutions
		ORDER BY resolved_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	list, err := collect(rows, scanResolution)
	return list, total, err
}

// Batches

func (r *PgRepository) CreateBatch(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO batch_operations
			(id, doctor_id, location_id, specialty_id, start_date, end_date, start_time, end_time,
			 total_capacity, working_days, distribution_mode, distribution, created_slots, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at
	`, b.ID, b.DoctorID, b.LocationID, b.SpecialtyID, b.StartDate, b.EndDate, pgClock(b.StartTime),
		pgClock(b.EndTime), b.TotalCapacity, b.WorkingDays, b.Mode, b.Distribution, b.CreatedSlots, b.Notes,
	).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *PgRepository) SetBatchCreatedSlots(ctx context.Context, id uuid.UUID, n int) error {
	tag, err := r.q(ctx).Exec(ctx, `UPDATE batch_operations SET created_slots = $2 WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *PgRepository) GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	row := r.q(ctx).QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_operations WHERE id = $1`, id)
	return scanBatch(row)
}

func (r *PgRepository) ListBatches(ctx context.Context, limit, offset int) ([]Batch, int, error) {
	var total int
	if err := r.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM batch_operations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+batchColumns+`
		FROM batch_operations
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	list, err := collect(rows, scanBatch)
	return list, total, err
}

func (r *PgRepository) ListSlotsByBatch(ctx context.Context, batchID uuid.UUID) ([]Slot, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE batch_id = $1
		ORDER BY slot_date, start_time
	`, batchID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) DeleteBatch(ctx context.Context, id uuid.UUID) (BatchDeletion, error) {
	var out BatchDeletion

	err := r.InTx(ctx, func(ctx context.Context) error {
		if _, err := r.GetBatch(ctx, id); err != nil {
			return err
		}

		tag, err := r.q(ctx).Exec(ctx, `
			DELETE FROM appointments
			WHERE slot_id IN (SELECT id FROM availability_slots WHERE batch_id = $1)
		`, id)
		if err != nil {
			return fmt.Errorf("delete batch appointments: %w", err)
		}
		out.Appointments = int(tag.RowsAffected())

		tag, err = r.q(ctx).Exec(ctx, `DELETE FROM availability_slots WHERE batch_id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete batch slots: %w", err)
		}
		out.Slots = int(tag.RowsAffected())

		if _, err := r.q(ctx).Exec(ctx, `DELETE FROM batch_operations WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		return nil
	})
	return out, err
}

// Holidays

func (r *PgRepository) ListHolidays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT holiday_date
		FROM holidays
		WHERE holiday_date BETWEEN $1 AND $2
		ORDER BY holiday_date
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		result = append(result, DateOf(d))
	}
	return result, rows.Err()
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.EntityID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
