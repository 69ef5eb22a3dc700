package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/config"
	"github.com/hackgods/clinic-capacity-engine/internal/db"
	"github.com/hackgods/clinic-capacity-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	MatchRatio   float64
	BookRatio    float64
	ConfirmRatio float64
	ReadRatio    float64
	PatientLimit int
	SlotLimit    int
	PostgresDSN  string
	Pool         db.PoolOptions
}

type DataPool struct {
	Patients    []uuid.UUID
	Specialties []uuid.UUID
	Slots       []uuid.UUID

	// Overbooked holds slots that were over capacity before the run;
	// the invariant check ignores them.
	Overbooked map[uuid.UUID]bool

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Queued    int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeQueued
	outcomeConflict
	outcomeError
)

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeQueued:
		atomic.AddInt64(&om.Queued, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Match    OperationMetrics
	Book     OperationMetrics
	Confirm  OperationMetrics
	Suggest  OperationMetrics
	ReadByID OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"), "simulate")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("match", cfg.MatchRatio).
		Float64("book", cfg.BookRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.Pool)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().
		Int("patients", len(dataPool.Patients)).
		Int("specialties", len(dataPool.Specialties)).
		Int("slots", len(dataPool.Slots)).
		Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	violations, err := checkCapacity(context.Background(), pgPool, dataPool.Overbooked)
	if err != nil {
		log.Fatal().Err(err).Msg("capacity check")
	}
	if len(violations) > 0 {
		log.Error().Int("slots", len(violations)).Msg("booked_slots exceeded capacity during the run")
		for _, v := range violations {
			fmt.Printf("  slot %s booked=%d capacity=%d\n", v.id, v.booked, v.capacity)
		}
		os.Exit(1)
	}
	log.Info().Msg("capacity invariant held for every slot")
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		MatchRatio:   getFloat("SIM_MATCH_RATIO", 0.5),
		BookRatio:    getFloat("SIM_BOOK_RATIO", 0.15),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:  baseCfg.PostgresDSN,
		Pool:         baseCfg.PoolOptions(),
	}

	total := cfg.MatchRatio + cfg.BookRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.MatchRatio /= total
		cfg.BookRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	return cfg, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{Overbooked: map[uuid.UUID]bool{}}
	var err error

	if dp.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if dp.Specialties, err = loadIDs(ctx, pool, `SELECT DISTINCT specialty_id FROM availability_slots WHERE slot_date > current_date`); err != nil {
		return nil, fmt.Errorf("load specialties: %w", err)
	}
	if dp.Slots, err = loadIDs(ctx, pool, `
		SELECT id FROM availability_slots
		WHERE slot_date > current_date AND booked_slots < capacity
		LIMIT $1
	`, cfg.SlotLimit); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	over, err := loadIDs(ctx, pool, `SELECT id FROM availability_slots WHERE booked_slots > capacity`)
	if err != nil {
		return nil, fmt.Errorf("load overbooked slots: %w", err)
	}
	for _, id := range over {
		dp.Overbooked[id] = true
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dp.Specialties) == 0 || len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no future slots loaded, run seed first")
	}
	return dp, nil
}

type violation struct {
	id               uuid.UUID
	booked, capacity int
}

func checkCapacity(ctx context.Context, pool *pgxpool.Pool, skip map[uuid.UUID]bool) ([]violation, error) {
	rows, err := pool.Query(ctx, `SELECT id, booked_slots, capacity FROM availability_slots WHERE booked_slots > capacity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []violation
	for rows.Next() {
		var v violation
		if err := rows.Scan(&v.id, &v.booked, &v.capacity); err != nil {
			return nil, err
		}
		if !skip[v.id] {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.MatchRatio:
			s.doMatch(ctx, rng)
		case r < s.config.MatchRatio+s.config.BookRatio:
			s.doBook(ctx, rng)
		case r < s.config.MatchRatio+s.config.BookRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			if rng.IntN(2) == 0 {
				s.doSuggest(ctx, rng)
			} else {
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func pick(rng *rand.Rand, ids []uuid.UUID) uuid.UUID {
	return ids[rng.IntN(len(ids))]
}

var levels = []string{"Baja", "Media", "Media", "Alta", "Urgente", "Emergencia"}

// post sends a JSON body and returns the status code and the decoded "id"
// field of the response (or of its nested appointment).
func (s *Simulator) post(ctx context.Context, path string, body any) (int, uuid.UUID, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, uuid.Nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, uuid.Nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, uuid.Nil, err
	}
	defer resp.Body.Close()

	var out struct {
		ID          uuid.UUID `json:"id"`
		Appointment *struct {
			ID uuid.UUID `json:"id"`
		} `json:"appointment"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Appointment != nil {
		out.ID = out.Appointment.ID
	}
	return resp.StatusCode, out.ID, nil
}

func classify(code int, err error) outcome {
	switch {
	case err != nil:
		return outcomeError
	case code == http.StatusOK || code == http.StatusCreated:
		return outcomeSuccess
	case code == http.StatusAccepted:
		return outcomeQueued
	case code == http.StatusConflict:
		return outcomeConflict
	default:
		return outcomeError
	}
}

func (s *Simulator) doMatch(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	code, id, err := s.post(ctx, "/assignments/match", map[string]any{
		"patient_id":        pick(rng, s.pool.Patients),
		"specialty_id":      pick(rng, s.pool.Specialties),
		"urgency_level":     levels[rng.IntN(len(levels))],
		"search_days_ahead": 14,
		"reason":            gofakeit.Sentence(6),
	})
	if code == http.StatusCreated && id != uuid.Nil {
		s.pool.AddAppointment(id)
	}
	s.metrics.Match.Record(time.Since(start), classify(code, err))
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	code, id, err := s.post(ctx, "/appointments", map[string]any{
		"slot_id":    pick(rng, s.pool.Slots),
		"patient_id": pick(rng, s.pool.Patients),
	})
	if code == http.StatusCreated && id != uuid.Nil {
		s.pool.AddAppointment(id)
	}
	s.metrics.Book.Record(time.Since(start), classify(code, err))
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()
	code, _, err := s.post(ctx, "/appointments/"+apptID.String()+"/confirm", nil)
	s.metrics.Confirm.Record(time.Since(start), classify(code, err))
}

func (s *Simulator) doSuggest(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	code, _, err := s.post(ctx, "/assignments/suggestions", map[string]any{
		"specialty_id":         pick(rng, s.pool.Specialties),
		"preferred_time_slots": []string{"07:00-12:00"},
	})
	s.metrics.Suggest.Record(time.Since(start), classify(code, err))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID), nil)
	resp, err := s.client.Do(req)
	code := 0
	if err == nil {
		code = resp.StatusCode
		resp.Body.Close()
	}
	s.metrics.ReadByID.Record(time.Since(start), classify(code, err))
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Match", &s.metrics.Match)
	printOperationReport("Manual booking", &s.metrics.Book)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Suggestions", &s.metrics.Suggest)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	queued := atomic.LoadInt64(&om.Queued)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if queued > 0 {
		fmt.Printf("  Queued: %d (%.1f%%)\n", queued, pct(queued))
	}
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, pct(errs))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
