package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/config"
	"github.com/hackgods/clinic-capacity-engine/internal/db"
	"github.com/hackgods/clinic-capacity-engine/internal/logging"
)

var specialtyNames = []string{
	"Medicina General",
	"Cardiología",
	"Dermatología",
	"Pediatría",
	"Ginecología",
	"Ortopedia",
	"Neurología",
	"Psiquiatría",
	"Oftalmología",
	"Otorrinolaringología",
}

type clinic struct {
	specialties []uuid.UUID
	locations   []uuid.UUID
	doctors     []doctor
}

type doctor struct {
	id        uuid.UUID
	specialty uuid.UUID
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod", "seed")
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.LogLevel, cfg.Env, "seed")
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PoolOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())

	c, err := seedReference(ctx, pool, 8, 60)
	if err != nil {
		log.Fatal().Err(err).Msg("seed reference data")
	}
	if err := seedPatients(ctx, pool, log, 5000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	today := capacity.Today(time.Now(), cfg.Location())
	if err := seedHolidays(ctx, pool, today); err != nil {
		log.Fatal().Err(err).Msg("seed holidays")
	}
	n, err := seedSlots(ctx, pool, c, today, 21)
	if err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().
		Int("specialties", len(c.specialties)).
		Int("locations", len(c.locations)).
		Int("doctors", len(c.doctors)).
		Int("slots", n).
		Msg("seed complete")
}

func seedReference(ctx context.Context, pool *pgxpool.Pool, locations, doctors int) (*clinic, error) {
	c := &clinic{}

	err := db.WithTx(ctx, pool, func(ctx context.Context) error {
		q := db.Conn(ctx, pool)

		for _, name := range specialtyNames {
			id := uuid.New()
			if _, err := q.Exec(ctx, `INSERT INTO specialties (id, name) VALUES ($1, $2)`, id, name); err != nil {
				return err
			}
			c.specialties = append(c.specialties, id)
		}

		for i := 0; i < locations; i++ {
			id := uuid.New()
			name := "Sede " + gofakeit.Street()
			if _, err := q.Exec(ctx, `INSERT INTO locations (id, name) VALUES ($1, $2)`, id, name); err != nil {
				return err
			}
			c.locations = append(c.locations, id)
		}

		for i := 0; i < doctors; i++ {
			d := doctor{
				id:        uuid.New(),
				specialty: c.specialties[gofakeit.Number(0, len(c.specialties)-1)],
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO doctors (id, name, specialty_id, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, d.id, "Dr. "+gofakeit.Name(), d.specialty); err != nil {
				return err
			}
			c.doctors = append(c.doctors, d)
		}
		return nil
	})
	return c, err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		batch := &pgx.Batch{}
		for i := offset; i < end; i++ {
			batch.Queue(`
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		log.Info().Int("seeded", end).Int("total", count).Msg("patients")
	}
	return nil
}

func seedHolidays(ctx context.Context, pool *pgxpool.Pool, today time.Time) error {
	// A couple of holidays inside the seeded window so exclusion is visible.
	for _, offset := range []int{9, 16} {
		day := today.AddDate(0, 0, offset)
		if _, err := pool.Exec(ctx, `
			INSERT INTO holidays (holiday_date, name) VALUES ($1, $2)
			ON CONFLICT (holiday_date) DO NOTHING
		`, day, "Festivo "+gofakeit.MonthString()); err != nil {
			return err
		}
	}
	return nil
}

// seedSlots gives every doctor a morning block on each weekday of the window.
// A few blocks start overbooked so detection has something to find.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, c *clinic, today time.Time, days int) (int, error) {
	repo := capacity.NewPgRepository(pool)
	created := 0

	for d := 1; d <= days; d++ {
		date := today.AddDate(0, 0, d)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		err := repo.InTx(ctx, func(ctx context.Context) error {
			for _, doc := range c.doctors {
				start := capacity.Clock(gofakeit.Number(7, 10) * 60)
				slot := &capacity.Slot{
					DoctorID:        doc.id,
					LocationID:      c.locations[gofakeit.Number(0, len(c.locations)-1)],
					SpecialtyID:     doc.specialty,
					Date:            date,
					Start:           start,
					End:             start.Add(180),
					Capacity:        gofakeit.Number(2, 8),
					DurationMinutes: 30,
				}
				if gofakeit.Number(1, 50) == 1 {
					slot.Booked = slot.Capacity + 1
					slot.Status = capacity.SlotFull
				}
				if err := repo.CreateSlot(ctx, slot); err != nil {
					return err
				}
				created++
			}
			return nil
		})
		if err != nil {
			return created, err
		}
	}
	return created, nil
}
