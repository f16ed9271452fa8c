package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type Doctor struct {
	appointment.Doctor
	Specialty string
}

type Patient struct {
	appointment.Patient
	Email string
}

// Dataset is a reproducible set of people; ids start at 1.
type Dataset struct {
	Patients []Patient
	Doctors  []Doctor
}

func Generate(seed uint64, patients, doctors int) Dataset {
	faker := gofakeit.New(seed)

	ds := Dataset{
		Patients: make([]Patient, 0, patients),
		Doctors:  make([]Doctor, 0, doctors),
	}
	for i := 1; i <= doctors; i++ {
		ds.Doctors = append(ds.Doctors, Doctor{
			Doctor:    appointment.Doctor{ID: int64(i), Name: "Dr. " + faker.Name()},
			Specialty: specialties[faker.Number(0, len(specialties)-1)],
		})
	}
	for i := 1; i <= patients; i++ {
		ds.Patients = append(ds.Patients, Patient{
			Patient: appointment.Patient{ID: int64(i), Name: faker.Name()},
			Email:   faker.Email(),
		})
	}
	return ds
}

func Memory(repo *appointment.MemoryRepository, ds Dataset) {
	for _, d := range ds.Doctors {
		repo.AddDoctor(d.Doctor)
	}
	for _, p := range ds.Patients {
		repo.AddPatient(p.Patient)
	}
}

// Postgres upserts the dataset in batches and moves the id sequences past it.
func Postgres(ctx context.Context, pool *pgxpool.Pool, ds Dataset) error {
	log := zerolog.Ctx(ctx)
	const batchSize = 500

	doctorRows := make([][]any, 0, len(ds.Doctors))
	for _, d := range ds.Doctors {
		doctorRows = append(doctorRows, []any{d.ID, d.Name, d.Specialty})
	}
	if err := upsert(ctx, pool, `
		INSERT INTO doctors (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, specialty = EXCLUDED.specialty, updated_at = now()
	`, doctorRows, batchSize); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	log.Info().Int("count", len(doctorRows)).Msg("doctors seeded")

	patientRows := make([][]any, 0, len(ds.Patients))
	for _, p := range ds.Patients {
		patientRows = append(patientRows, []any{p.ID, p.Name, p.Email})
	}
	if err := upsert(ctx, pool, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = now()
	`, patientRows, batchSize); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	log.Info().Int("count", len(patientRows)).Msg("patients seeded")

	for _, table := range []string{"doctors", "patients"} {
		_, err := pool.Exec(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 0) FROM %[1]s), 1))`, table))
		if err != nil {
			return fmt.Errorf("advance %s sequence: %w", table, err)
		}
	}
	return nil
}

func upsert(ctx context.Context, pool *pgxpool.Pool, query string, rows [][]any, batchSize int) error {
	for offset := 0; offset < len(rows); offset += batchSize {
		end := min(offset+batchSize, len(rows))

		start := time.Now()
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, args := range rows[offset:end] {
				batch.Queue(query, args...)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}

		zerolog.Ctx(ctx).Debug().
			Int("done", end).
			Int("total", len(rows)).
			Dur("took", time.Since(start)).
			Msg("seed batch committed")
	}
	return nil
}
