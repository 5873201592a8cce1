// README: Bench cases: environment checks, the authenticated session flow and location update load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"navi/internal/modules/broadcast"
	"navi/internal/modules/navigation"
)

// broadcastWait bounds how long a case waits for a notification on Redis.
const broadcastWait = 3 * time.Second

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// sessionID is set by the create case and used by the rest of the flow.
	sessionID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: navigation_events table", Run: checkJournalTable},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "API: health", Run: expectStatus(http.MethodGet, "/health", false, nil, http.StatusOK)},
		{Name: "API: metrics", Run: expectStatus(http.MethodGet, "/metrics", false, nil, http.StatusOK)},
		{Name: "API: sessions require auth", Run: expectStatus(http.MethodPost, "/api/sessions", false, nil, http.StatusUnauthorized)},
		{Name: "Session: create", Run: createSession},
		{Name: "Session: acquire route (+ redis broadcast)", Run: acquireRoute},
		{Name: "Session: start navigation", Run: sessionStep(http.MethodPost, "/navigation/start", nil, http.StatusOK)},
		{Name: "Session: location update", Run: sessionStep(http.MethodPut, "/location", func(r *Runner) any {
			return map[string]any{"location": latLng(r.cfg.Origin)}
		}, http.StatusOK)},
		{Name: "Session: invalid location -> 400", Run: sessionStep(http.MethodPut, "/location", func(*Runner) any {
			return map[string]any{"location": map[string]any{"latitude": 123, "longitude": 0}}
		}, http.StatusBadRequest)},
		{Name: "Session: stop navigation", Run: sessionStep(http.MethodPost, "/navigation/stop", nil, http.StatusOK)},
		{Name: "Session: history", Run: sessionStep(http.MethodGet, "/history", nil, http.StatusOK)},
		{Name: "Load: location updates", Run: locationLoad},
		{Name: "Session: close", Run: sessionStep(http.MethodDelete, "", nil, http.StatusNoContent)},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkJournalTable(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
		"navigation_events",
	).Scan(&exists)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if !exists {
		return Result{Status: statusFail, Note: "missing table: navigation_events"}
	}
	return Result{Status: statusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func expectStatus(method, path string, auth bool, body any, want int) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		status, latency, _, err := r.call(ctx, method, path, auth, body)
		return judge(status, latency, err, want)
	}
}

func createSession(ctx context.Context, r *Runner) Result {
	if r.cfg.Token == "" {
		return Result{Status: statusSkip, Note: "no id token"}
	}
	status, latency, body, err := r.call(ctx, http.MethodPost, "/api/sessions", true, map[string]any{
		"origin":      latLng(r.cfg.Origin),
		"destination": latLng(r.cfg.Destination),
		"travel_mode": "driving",
	})
	res := judge(status, latency, err, http.StatusCreated)
	if res.Status != statusPass {
		return res
	}
	var state struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &state); err != nil || state.ID == "" {
		return Result{Status: statusFail, Latency: latency, Note: "no session id in response"}
	}
	r.sessionID = state.ID
	res.Note = "session=" + state.ID
	return res
}

func sessionStep(method, suffix string, body func(*Runner) any, want int) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.sessionID == "" {
			return Result{Status: statusSkip, Note: "no session"}
		}
		var payload any
		if body != nil {
			payload = body(r)
		}
		status, latency, _, err := r.call(ctx, method, "/api/sessions/"+r.sessionID+suffix, true, payload)
		return judge(status, latency, err, want)
	}
}

// acquireRoute requests the session route. With Redis configured it also
// checks the route notification reaches the session's broadcast channel.
func acquireRoute(ctx context.Context, r *Runner) Result {
	if r.sessionID == "" {
		return Result{Status: statusSkip, Note: "no session"}
	}
	var sub *broadcast.Subscription
	if r.redis != nil {
		s, err := broadcast.Subscribe(ctx, r.redis, r.sessionID, nil)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		sub = s
		defer sub.Close()
	}

	status, latency, _, err := r.call(ctx, http.MethodPost, "/api/sessions/"+r.sessionID+"/route", true, nil)
	res := judge(status, latency, err, http.StatusOK)
	if res.Status != statusPass || sub == nil {
		return res
	}

	waitCtx, cancel := context.WithTimeout(ctx, broadcastWait)
	defer cancel()
	received := false
	sub.Each(waitCtx, func(env broadcast.Envelope) bool {
		received = env.Event == navigation.EventCalculatedRoute
		return !received
	})
	if !received {
		res.Status = statusFail
		res.Note += " no " + string(navigation.EventCalculatedRoute) + " on " + broadcast.Channel(r.sessionID)
		return res
	}
	res.Note += " broadcast=ok"
	return res
}

// locationLoad sends location updates for the bench session for cfg.Duration.
// Throttled updates still count as served.
func locationLoad(ctx context.Context, r *Runner) Result {
	if r.sessionID == "" {
		return Result{Status: statusSkip, Note: "no session"}
	}
	path := "/api/sessions/" + r.sessionID + "/location"
	payload := map[string]any{"location": latLng(r.cfg.Origin)}
	end := time.Now().Add(r.cfg.Duration)

	var served, failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.call(ctx, http.MethodPut, path, true, payload)
				if err != nil || status != http.StatusOK {
					failed.Add(1)
					continue
				}
				served.Add(1)
			}
		}()
	}
	wg.Wait()

	if served.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(served.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, failed.Load())}
}

func (r *Runner) call(ctx context.Context, method, path string, auth bool, body any) (int, time.Duration, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, time.Since(start), data, err
}

func judge(status int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", status)
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: note + fmt.Sprintf(" want=%d", want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: note}
}

// latLng turns "lat,lng" into a waypoint body; coordinates stay strings,
// which the API accepts.
func latLng(pair string) map[string]any {
	lat, lng, _ := strings.Cut(pair, ",")
	return map[string]any{"latitude": strings.TrimSpace(lat), "longitude": strings.TrimSpace(lng)}
}
