package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/bff"
	"github.com/hackgods/clinic-appointments/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Patients     int
	Doctors      int
	SlotsPerDay  int
	BookingRatio float64
	CancelRatio  float64
	ConfirmRatio float64
	ReadRatio    float64
}

// DataPool holds the candidate slots and the ids of appointments created so far.
type DataPool struct {
	Slots        []time.Time
	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) Appointments() []int64 {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return append([]int64(nil), dp.appointments...)
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch kind := appointment.KindOf(err); {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case kind == appointment.KindSlotConflict || kind == appointment.KindInvalidTransition:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Confirm OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	backend appointment.Backend
	metrics Metrics
}

func main() {
	_ = godotenv.Load()
	logger := logging.Init("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Str("target", cfg.APIBaseURL).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("confirm", cfg.ConfirmRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	client, err := bff.NewClient(bff.Options{BaseURL: cfg.APIBaseURL, Timeout: 10 * time.Second})
	if err != nil {
		logger.Fatal().Err(err).Msg("client")
	}

	sim := &Simulator{
		config:  cfg,
		pool:    &DataPool{Slots: buildSlots(time.Now().UTC(), cfg.SlotsPerDay)},
		backend: client,
	}

	ctx := logger.WithContext(context.Background())
	sim.Run(ctx)
	sim.PrintReport()

	if err := sim.Verify(ctx); err != nil {
		logger.Fatal().Err(err).Msg("double-booking check failed")
	}
	logger.Info().Msg("no doctor is double-booked")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Patients:     getInt("SIM_PATIENTS", 50),
		Doctors:      getInt("SIM_DOCTORS", 10),
		SlotsPerDay:  getInt("SIM_SLOTS_PER_DAY", 8),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Doctors <= 0 || cfg.SlotsPerDay <= 0 {
		return fmt.Errorf("SIM_PATIENTS, SIM_DOCTORS and SIM_SLOTS_PER_DAY must be > 0")
	}
	return nil
}

// buildSlots returns half-hour slots from 09:00 UTC tomorrow. Few slots mean
// heavy contention, which is the point.
func buildSlots(now time.Time, n int) []time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	slots := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, day.Add(time.Duration(i)*30*time.Minute))
	}
	return slots
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	zerolog.Ctx(ctx).Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	req := appointment.Request{
		PatientID:   int64(rng.Intn(s.config.Patients) + 1),
		DoctorID:    int64(rng.Intn(s.config.Doctors) + 1),
		ScheduledAt: s.pool.Slots[rng.Intn(len(s.pool.Slots))],
	}

	start := time.Now()
	a, err := s.backend.Create(ctx, req)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(time.Since(start), err)
	if err == nil {
		s.pool.AddAppointment(a.ID)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	cancelled, err := s.backend.Delete(ctx, id)
	if ctx.Err() != nil {
		return
	}
	if err == nil && !cancelled {
		err = appointment.ErrAppointmentNotFound
	}
	s.metrics.Cancel.Record(time.Since(start), err)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	_, err := s.backend.Confirm(ctx, id)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Confirm.Record(time.Since(start), err)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	var err error
	start := time.Now()
	if id, ok := s.pool.GetRandomAppointment(rng); ok && rng.Intn(2) == 0 {
		_, err = s.backend.Get(ctx, id)
	} else {
		_, err = s.backend.List(ctx, appointment.ListFilter{Date: s.pool.Slots[0].Format(appointment.DateLayout)})
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.Read.Record(time.Since(start), err)
}

// Verify lists every active appointment and fails if two share a slot. The
// list degrades to empty when the resource tier is down, so a booked id is
// read first and an empty list after bookings is rejected.
func (s *Simulator) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	booked := s.pool.Appointments()
	if len(booked) > 0 {
		if _, err := s.backend.Get(ctx, booked[0]); err != nil {
			return fmt.Errorf("read booked appointment %d: %w", booked[0], err)
		}
	}

	list, err := s.backend.List(ctx, appointment.ListFilter{})
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	active := atomic.LoadInt64(&s.metrics.Booking.Success) - atomic.LoadInt64(&s.metrics.Cancel.Success)
	if len(list) == 0 && active > 0 {
		return fmt.Errorf("list returned no appointments after %d net bookings", active)
	}

	seen := make(map[appointment.Slot]int64, len(list))
	var dups []string
	for _, a := range list {
		if prev, ok := seen[a.Slot()]; ok {
			dups = append(dups, fmt.Sprintf("%s held by %d and %d", a.Slot().Key(), prev, a.ID))
			continue
		}
		seen[a.Slot()] = a.ID
	}
	if len(dups) > 0 {
		return errors.New(strings.Join(dups, "; "))
	}

	zerolog.Ctx(ctx).Info().Int("active", len(list)).Msg("verified active appointments")
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots: %d doctors x %d times\n", s.config.Doctors, len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

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
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
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
