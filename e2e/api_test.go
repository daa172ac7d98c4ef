//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"upgrader/internal/access"
	"upgrader/internal/api"
	"upgrader/internal/bootstrap"
	"upgrader/internal/dispatcher"
	"upgrader/internal/health"
	"upgrader/internal/history"
	"upgrader/internal/notify"
	"upgrader/internal/settings"
	"upgrader/internal/testutil"
	"upgrader/internal/upgrade"
)

const testAPIKey = "e2e-key"

type target struct {
	url     string
	apiKey  string
	version string // tag the tests upgrade to
}

type serverOptions struct {
	depsCmd  string
	webhooks []string
}

// getTarget returns the service under test.
// If E2E_API_URL is set, tests run against that instance using E2E_API_KEY
// and upgrade it to E2E_VERSION.
// Otherwise, a test server is created over a scratch git deployment.
func getTarget(t *testing.T, opts serverOptions) (target, func()) {
	if u := os.Getenv("E2E_API_URL"); u != "" {
		version := os.Getenv("E2E_VERSION")
		if version == "" {
			t.Skip("E2E_VERSION is required with E2E_API_URL")
		}
		t.Logf("Using external API: %s", u)
		return target{url: u, apiKey: os.Getenv("E2E_API_KEY"), version: version}, func() {}
	}

	server, cleanup := createTestServer(t, opts)
	return target{url: server.URL, apiKey: testAPIKey, version: "v2.0.0"}, cleanup
}

func createTestServer(t *testing.T, opts serverOptions) (*httptest.Server, func()) {
	root := createDeployment(t, "v1.0.0", "v2.0.0")

	depsCmd := opts.depsCmd
	if depsCmd == "" {
		depsCmd = "true"
	}
	t.Setenv("LEASE_BACKEND", "memory")
	t.Setenv("DEPS_INSTALL_CMD", depsCmd)
	t.Setenv("CACHE_CLEAR_CMD", "true")

	stack, err := bootstrap.Open(context.Background(), bootstrap.Options{DeployRoot: root})
	if err != nil {
		t.Fatalf("Failed to assemble pipeline: %v", err)
	}

	eventDispatcher := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize: 16,
		Workers:    1,
	}, nil)

	flash := notify.NewFlash(0)
	sinks := []notify.Sink{flash}
	if len(opts.webhooks) > 0 {
		sinks = append(sinks, notify.NewWebhook(eventDispatcher, opts.webhooks, "", "e2e"))
	}

	store := settings.Static{Installed: true, Values: map[string]string{settings.KeyDBVersion: "3.0"}}
	svc := upgrade.NewService(upgrade.Deps{
		Pipeline:     stack.Pipeline,
		Source:       stack.Source,
		Guard:        access.NewGuard(store),
		Settings:     store,
		History:      history.NewMemory(0),
		Sink:         notify.Multi(sinks...),
		AppDBVersion: "3.1",
	})

	healthChecker := health.NewChecker()
	healthChecker.Add("repository", stack.Git)
	healthChecker.Add("lease", health.CheckFunc(stack.Lease.Ping))

	router := api.NewRouter(api.RouterConfig{
		Upgrades:      svc,
		HealthChecker: healthChecker,
		Flash:         flash,
		Resolver:      access.Resolver{APIKey: testAPIKey, APIKeyRoles: []string{access.RoleAdmin}},
	})

	server := httptest.NewServer(router)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// Let background runs finish before their working tree disappears
		if err := svc.Close(ctx); err != nil {
			t.Logf("Upgrades still running: %v", err)
		}
		eventDispatcher.Close(ctx)
		server.Close()
		stack.Close()
	}

	return server, cleanup
}

// createDeployment builds a bare origin carrying one commit per tag and
// returns a clone checked out at the first tag.
func createDeployment(t *testing.T, tags ...string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	base := t.TempDir()
	origin := filepath.Join(base, "origin.git")
	seed := filepath.Join(base, "seed")
	work := filepath.Join(base, "work")

	runGit(t, base, "init", "-q", "--bare", origin)
	runGit(t, base, "init", "-q", seed)
	for _, tag := range tags {
		if err := os.WriteFile(filepath.Join(seed, "VERSION"), []byte(tag+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		runGit(t, seed, "add", "VERSION")
		runGit(t, seed, "commit", "-q", "-m", tag)
		runGit(t, seed, "tag", tag)
	}
	runGit(t, seed, "remote", "add", "origin", origin)
	runGit(t, seed, "push", "-q", "origin", "HEAD:refs/heads/main", "--tags")
	runGit(t, base, "clone", "-q", origin, work)
	runGit(t, work, "checkout", "-q", "tags/"+tags[0])
	return work
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=e2e", "GIT_AUTHOR_EMAIL=e2e@example.com",
		"GIT_COMMITTER_NAME=e2e", "GIT_COMMITTER_EMAIL=e2e@example.com")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

func (tg target) request(method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, tg.url+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tg.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+tg.apiKey)
	}
	return http.DefaultClient.Do(req)
}

func (tg target) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	resp, err := tg.request(method, path, body)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func (tg target) getRun(t *testing.T, id string) history.Run {
	t.Helper()
	resp := tg.do(t, http.MethodGet, "/v1/upgrades/"+id, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for run %s, got %d", id, resp.StatusCode)
	}
	var run history.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("Decode run failed: %v", err)
	}
	return run
}

func TestAPI_Readyz(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp, err := http.Get(tg.url + "/readyz")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)

	if result["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", result["status"])
	}
}

func TestAPI_Livez(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp, err := http.Get(tg.url + "/livez")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestAPI_Versions(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp := tg.do(t, http.MethodGet, "/v1/versions", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result struct {
		Versions []string `json:"versions"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	found := false
	for _, v := range result.Versions {
		if v == tg.version {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected %s in versions, got %v", tg.version, result.Versions)
	}
}

func TestAPI_RequiresCredentials(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	tg.apiKey = ""
	resp := tg.do(t, http.MethodPost, "/v1/upgrades", map[string]any{"version": tg.version})
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without credentials, got %d", resp.StatusCode)
	}
}

func TestAPI_CreateAndGetUpgrade(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp := tg.do(t, http.MethodPost, "/v1/upgrades", map[string]any{"version": tg.version})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}

	var created history.Run
	json.NewDecoder(resp.Body).Decode(&created)
	if created.ID == "" {
		t.Fatal("Expected a run ID")
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/upgrades/"+created.ID {
		t.Errorf("Expected Location /v1/upgrades/%s, got %q", created.ID, loc)
	}

	run := testutil.MustPoll(t, func() (history.Run, bool) {
		run := tg.getRun(t, created.ID)
		return run, run.Terminal()
	}, testutil.WithTimeout(2*time.Minute), testutil.WithInterval(200*time.Millisecond))

	if run.State != history.StateSucceeded {
		t.Fatalf("Expected run to succeed, got %s: %+v", run.State, run.Outcome)
	}
	want := fmt.Sprintf("Repository updated successfully to %s.", tg.version)
	if run.Outcome.Message != want {
		t.Errorf("Expected message %q, got %q", want, run.Outcome.Message)
	}
	if !strings.Contains(run.Outcome.Log, "$ git checkout --force tags/"+tg.version) {
		t.Errorf("Expected checkout in transcript, got:\n%s", run.Outcome.Log)
	}
}

func TestAPI_SynchronousUpgrade(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp := tg.do(t, http.MethodPost, "/v1/upgrades?wait=true", map[string]any{"version": tg.version})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var run history.Run
	json.NewDecoder(resp.Body).Decode(&run)
	if run.State != history.StateSucceeded {
		t.Errorf("Expected succeeded run, got %s", run.State)
	}

	status := tg.do(t, http.MethodGet, "/v1/update", nil)
	defer status.Body.Close()

	var st map[string]any
	json.NewDecoder(status.Body).Decode(&st)
	if st["currentRef"] != tg.version {
		t.Errorf("Expected currentRef %s after upgrade, got %v", tg.version, st["currentRef"])
	}
}

func TestAPI_InvalidVersion(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp := tg.do(t, http.MethodPost, "/v1/upgrades", map[string]any{"version": "v1.0.0 && reboot"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid version, got %d", resp.StatusCode)
	}
}

func TestAPI_UnknownTag(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	resp := tg.do(t, http.MethodPost, "/v1/upgrades", map[string]any{"version": "v0.0.0-e2e-missing"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown tag, got %d", resp.StatusCode)
	}
}

func TestAPI_FormSubmission(t *testing.T) {
	tg, cleanup := getTarget(t, serverOptions{})
	defer cleanup()

	form := url.Values{"updateDB": {"1"}, "version": {tg.version}}
	req, _ := http.NewRequest(http.MethodPost, tg.url+"/install/update", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+tg.apiKey)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected status 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Expected redirect to /, got %q", loc)
	}
}

func TestAPI_UpgradeWithWebhook(t *testing.T) {
	var eventCount atomic.Int64
	var mu sync.Mutex
	received := make([]map[string]any, 0)

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event map[string]any
		json.NewDecoder(r.Body).Decode(&event)

		mu.Lock()
		received = append(received, event)
		t.Logf("Received webhook event: %v", event["type"])
		mu.Unlock()
		eventCount.Add(1)

		w.WriteHeader(http.StatusOK)
	}))
	defer callback.Close()

	if os.Getenv("E2E_API_URL") != "" {
		t.Skip("webhook destinations are configured on the external instance")
	}
	tg, cleanup := getTarget(t, serverOptions{webhooks: []string{callback.URL}})
	defer cleanup()

	resp := tg.do(t, http.MethodPost, "/v1/upgrades?wait=true", map[string]any{"version": tg.version})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	testutil.MustWaitForCount(t, &eventCount, 1, testutil.WithTimeout(30*time.Second))

	mu.Lock()
	event := received[0]
	mu.Unlock()

	if event["type"] != notify.EventSucceeded {
		t.Errorf("Expected %s event, got %v", notify.EventSucceeded, event["type"])
	}
	data, _ := event["data"].(map[string]any)
	if data["version"] != tg.version {
		t.Errorf("Expected version %s in event data, got %v", tg.version, data["version"])
	}
}

func TestAPI_ConcurrentUpgrades(t *testing.T) {
	if os.Getenv("E2E_API_URL") != "" {
		t.Skip("needs a dependency step slow enough to overlap")
	}
	tg, cleanup := getTarget(t, serverOptions{depsCmd: "sleep 2"})
	defer cleanup()

	numRequests := 4
	var wg sync.WaitGroup
	codes := make(chan int, numRequests)
	errors := make(chan error, numRequests)

	for range numRequests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := tg.request(http.MethodPost, "/v1/upgrades", map[string]any{"version": tg.version})
			if err != nil {
				errors <- err
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}

	wg.Wait()
	close(codes)
	close(errors)

	for err := range errors {
		t.Error(err)
	}

	accepted, conflicts := 0, 0
	for code := range codes {
		switch code {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		default:
			t.Errorf("Unexpected status %d", code)
		}
	}

	if accepted != 1 {
		t.Errorf("Expected exactly one accepted upgrade, got %d (conflicts: %d)", accepted, conflicts)
	}
}
