package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmeet/appointments/internal/appointment"
	"github.com/campusmeet/appointments/internal/auth"
	"github.com/campusmeet/appointments/internal/db"
)

// The loadtest drives a running api-server with a mix of appointment
// requests, conflicting status updates on the same ids, and role-scoped
// reads. Conflicting updates are the interesting part: exactly one of two
// racing transitions may win, the loser must see a conflict, never a lost
// update.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	PostgresDSN string
	JWTSecret   string
}

type target struct {
	AppointmentID uuid.UUID
	FacultyID     uuid.UUID
	Status        appointment.Status
}

type DataPool struct {
	Students []uuid.UUID
	Targets  []target

	mu      sync.RWMutex
	created []target
}

func (dp *DataPool) AddCreated(t target) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.created = append(dp.created, t)
}

func (dp *DataPool) RandomTarget() (target, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()

	total := len(dp.Targets) + len(dp.created)
	if total == 0 {
		return target{}, false
	}
	idx := rand.Intn(total)
	if idx < len(dp.Targets) {
		return dp.Targets[idx], true
	}
	return dp.created[idx-len(dp.Targets)], true
}

type OperationMetrics struct {
	mu        sync.Mutex
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	om.mu.Lock()
	defer om.mu.Unlock()

	om.Total++
	switch {
	case success:
		om.Success++
	case conflict:
		om.Conflict++
	default:
		om.Error++
	}
	om.Latencies = append(om.Latencies, latency)
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	log.Printf("loadtest starting: base_url=%s duration=%s workers=%d", cfg.APIBaseURL, cfg.Duration, cfg.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}

	dataPool, err := loadDataPool(context.Background(), pool)
	pool.Close()
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	if len(dataPool.Students) == 0 || len(dataPool.Targets) == 0 {
		log.Fatal("no seeded students or appointments found, run cmd/seed first")
	}

	tokens := newTokenCache(cfg.JWTSecret)

	var (
		createMetrics OperationMetrics
		updateMetrics OperationMetrics
		readMetrics   OperationMetrics
	)

	deadline := time.Now().Add(cfg.Duration)
	client := &http.Client{Timeout: 10 * time.Second}

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				switch r := rand.Float64(); {
				case r < 0.35:
					doCreate(client, cfg, dataPool, tokens, &createMetrics)
				case r < 0.80:
					doStatusUpdate(client, cfg, dataPool, tokens, &updateMetrics)
				default:
					doList(client, cfg, dataPool, tokens, &readMetrics)
				}
			}
		}()
	}
	wg.Wait()

	report("create", &createMetrics)
	report("status-update", &updateMetrics)
	report("list", &readMetrics)
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("API_BASE_URL", "http://127.0.0.1:8080"),
		Duration:    30 * time.Second,
		Workers:     16,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
	}

	if v := os.Getenv("LOADTEST_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("LOADTEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	return cfg
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'student' LIMIT 2000`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Students = append(dp.Students, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT id, faculty_id, status
		FROM appointments
		WHERE status IN ('requested', 'approved')
		LIMIT 2000
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t target
		var status string
		if err := rows.Scan(&t.AppointmentID, &t.FacultyID, &status); err != nil {
			return nil, err
		}
		t.Status = appointment.Status(status)
		dp.Targets = append(dp.Targets, t)
	}
	return dp, rows.Err()
}

type tokenCache struct {
	secret string
	mu     sync.Mutex
	byUser map[uuid.UUID]string
}

func newTokenCache(secret string) *tokenCache {
	return &tokenCache{secret: secret, byUser: make(map[uuid.UUID]string)}
}

func (tc *tokenCache) For(userID uuid.UUID, role appointment.Role) string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tok, ok := tc.byUser[userID]; ok {
		return tok
	}
	tok, err := auth.IssueToken(tc.secret, auth.Principal{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	tc.byUser[userID] = tok
	return tok
}

func doCreate(client *http.Client, cfg SimConfig, dp *DataPool, tokens *tokenCache, m *OperationMetrics) {
	student := dp.Students[rand.Intn(len(dp.Students))]
	tgt, ok := dp.RandomTarget()
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{
		"faculty_id": tgt.FacultyID.String(),
		"mode":       "online",
		"reason":     "load test advising request",
	})

	status, resp, latency := do(client, http.MethodPost, cfg.APIBaseURL+"/appointments/request",
		tokens.For(student, appointment.RoleStudent), body)
	m.Record(latency, status == http.StatusCreated, status == http.StatusConflict)

	if status == http.StatusCreated {
		var created struct {
			ID        uuid.UUID `json:"id"`
			FacultyID uuid.UUID `json:"faculty_id"`
			Status    string    `json:"status"`
		}
		if err := json.Unmarshal(resp, &created); err == nil {
			dp.AddCreated(target{
				AppointmentID: created.ID,
				FacultyID:     created.FacultyID,
				Status:        appointment.Status(created.Status),
			})
		}
	}
}

func doStatusUpdate(client *http.Client, cfg SimConfig, dp *DataPool, tokens *tokenCache, m *OperationMetrics) {
	tgt, ok := dp.RandomTarget()
	if !ok {
		return
	}

	// Pick a plausible next status; racing workers picking different edges
	// from the same pre-state is exactly the contention we want.
	var next appointment.Status
	switch tgt.Status {
	case appointment.StatusRequested:
		next = pick(appointment.StatusApproved, appointment.StatusDeclined)
	default:
		next = pick(appointment.StatusCompleted, appointment.StatusCancelled)
	}

	body, _ := json.Marshal(map[string]string{"status": string(next)})

	url := fmt.Sprintf("%s/appointments/%s/status", cfg.APIBaseURL, tgt.AppointmentID)
	status, _, latency := do(client, http.MethodPatch, url,
		tokens.For(tgt.FacultyID, appointment.RoleFaculty), body)
	// 400 here means the transition lost to an earlier writer and the edge is
	// no longer valid; it's expected contention, not an error.
	m.Record(latency, status == http.StatusOK, status == http.StatusConflict || status == http.StatusBadRequest)
}

func doList(client *http.Client, cfg SimConfig, dp *DataPool, tokens *tokenCache, m *OperationMetrics) {
	student := dp.Students[rand.Intn(len(dp.Students))]
	status, _, latency := do(client, http.MethodGet, cfg.APIBaseURL+"/appointments",
		tokens.For(student, appointment.RoleStudent), nil)
	m.Record(latency, status == http.StatusOK, false)
}

func do(client *http.Client, method, url, token string, body []byte) (int, []byte, time.Duration) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, 0
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, data, latency
}

func pick(a, b appointment.Status) appointment.Status {
	if rand.Intn(2) == 0 {
		return a
	}
	return b
}

func report(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%-14s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
		name, m.Total, m.Success, m.Conflict, m.Error, avg, p50, p95)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
