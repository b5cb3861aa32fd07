package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmeet/appointments/internal/appointment"
	"github.com/campusmeet/appointments/internal/auth"
	"github.com/campusmeet/appointments/internal/db"
)

const tokenTTL = 24 * time.Hour

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := ensureSchema(context.Background(), pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	faculty, err := seedUsers(context.Background(), pool, appointment.RoleFaculty, 20)
	if err != nil {
		log.Fatalf("seed faculty: %v", err)
	}
	students, err := seedUsers(context.Background(), pool, appointment.RoleStudent, 200)
	if err != nil {
		log.Fatalf("seed students: %v", err)
	}
	admins, err := seedUsers(context.Background(), pool, appointment.RoleAdmin, 2)
	if err != nil {
		log.Fatalf("seed admins: %v", err)
	}

	if err := seedAppointments(context.Background(), pool, students, faculty, 500); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	printToken(secret, "faculty", faculty[0])
	printToken(secret, "student", students[0])
	printToken(secret, "admin", admins[0])

	log.Println("seed complete")
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         uuid PRIMARY KEY,
			first_name text NOT NULL,
			last_name  text NOT NULL,
			email      text NOT NULL UNIQUE,
			role       text NOT NULL,
			mode       text NOT NULL DEFAULT 'onsite',
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS appointments (
			id         uuid PRIMARY KEY,
			student_id uuid NOT NULL REFERENCES users (id),
			faculty_id uuid NOT NULL REFERENCES users (id),
			mode       text NOT NULL,
			status     text NOT NULL DEFAULT 'requested',
			reason     text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS appointments_student_idx ON appointments (student_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS appointments_faculty_idx ON appointments (faculty_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS appointment_events (
			id             bigserial PRIMARY KEY,
			appointment_id uuid NOT NULL REFERENCES appointments (id),
			event_type     text NOT NULL,
			payload        jsonb,
			created_at     timestamptz NOT NULL DEFAULT now()
		);
	`)
	return err
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, role appointment.Role, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d %s users", count, role)

	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		mode := appointment.ModeOnsite
		if gofakeit.Bool() {
			mode = appointment.ModeOnline
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, first_name, last_name, email, role, mode, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, id, gofakeit.FirstName(), gofakeit.LastName(), gofakeit.Email(), string(role), string(mode))
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return ids, nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, students, faculty []uuid.UUID, count int) error {
	log.Printf("seeding %d appointments", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			student := students[gofakeit.Number(0, len(students)-1)]
			fac := faculty[gofakeit.Number(0, len(faculty)-1)]
			mode := appointment.ModeOnsite
			if gofakeit.Bool() {
				mode = appointment.ModeOnline
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments (id, student_id, faculty_id, mode, status, reason, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'requested', $5, now(), now())
			`, uuid.New(), student, fac, string(mode), gofakeit.Sentence(8))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("appointments seeded: %d/%d", end, count)
	}

	return nil
}

func printToken(secret, label string, userID uuid.UUID) {
	role, _ := appointment.ParseRole(label)
	token, err := auth.IssueToken(secret, auth.Principal{UserID: userID, Role: role}, tokenTTL)
	if err != nil {
		log.Printf("issue %s token: %v", label, err)
		return
	}
	fmt.Printf("%s user %s token:\n%s\n\n", label, userID, token)
}
