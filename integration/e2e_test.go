//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cketlive/scoring/internal/app/roster"
	"github.com/cketlive/scoring/internal/contracts"
	"github.com/cketlive/scoring/internal/match"
	platformauth "github.com/cketlive/scoring/internal/platform/auth"
)

const (
	apiAddr   = "127.0.0.1:18080"
	jwtSecret = "integration-secret"
)

type managedProcess struct {
	name   string
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}

	mu      sync.RWMutex
	exited  bool
	exitErr error
}

// captured collects queue messages for one match.
type captured struct {
	mu      sync.Mutex
	updates []contracts.UpdateMessage
	scores  []contracts.ScoreMessage
}

func (c *captured) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates), len(c.scores)
}

var (
	buildOnce sync.Once
	buildErr  error
)

func TestBallsFlowThroughQueuesAndStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	natsURL := os.Getenv("INTEGRATION_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://127.0.0.1:4222"
	}
	if !reachable(strings.TrimPrefix(natsURL, "nats://")) {
		t.Skipf("nats is not reachable at %s", natsURL)
	}

	root := repoRoot(t)
	buildAPI(t, root)
	api := startProcess(t, root, "scoring-api", []string{
		"SCORING_API_ADDR=" + apiAddr,
		"STORE_BACKEND=sqlite",
		"SQLITE_PATH=" + filepath.Join(t.TempDir(), "scoring.db"),
		"NATS_URL=" + natsURL,
		"JWT_SECRET=" + jwtSecret,
	}, "./bin/scoring-api")
	t.Cleanup(func() { stopProcess(api) })
	waitForHTTP(t, "http://"+apiAddr+"/readyz", 30*time.Second, api)

	token, err := platformauth.NewManager(jwtSecret, time.Hour).Sign("integration-user", "it")
	require.NoError(t, err)

	var teams []roster.TeamWithPlayers
	for _, name := range []string{"North", "South"} {
		var ref roster.TeamRef
		call(t, http.MethodPost, "/api/create-team", token, roster.CreateTeamRequest{TeamName: name, Players: players(name)}, &ref)
		var team roster.TeamWithPlayers
		call(t, http.MethodGet, "/api/team/"+ref.TeamID, "", nil, &team)
		teams = append(teams, team)
	}

	var summary roster.MatchSummary
	call(t, http.MethodPost, "/api/create-match", token, roster.CreateMatchRequest{
		Teams:      []roster.TeamPick{{TeamID: teams[0].TeamID}, {TeamID: teams[1].TeamID}},
		ShortNames: []string{"NOR", "SOU"},
		Properties: match.Properties{Overs: 20},
	}, &summary)
	matchID := summary.MatchID

	got := subscribe(t, natsURL, matchID)

	call(t, http.MethodPost, "/api/start-innings", "", map[string]any{
		"_id":              matchID,
		"battingTeamID":    teams[0].TeamID,
		"bowlingTeamID":    teams[1].TeamID,
		"currentBatterIDs": teams[0].PlayerIDs[:2],
		"currentBowlerID":  teams[1].PlayerIDs[10],
	}, nil)

	runs := []int{1, 4, 0, 2, 6, 3}
	for _, r := range runs {
		call(t, http.MethodPost, "/api/ball", "", map[string]any{"matchId": matchID, "ball": match.Ball{Runs: r}}, nil)
	}

	var state match.State
	call(t, http.MethodGet, "/api/match/"+matchID, "", nil, &state)
	assert.Equal(t, match.Score{Runs: 16, Overs: 1}, state.Teams[teams[0].TeamID].Score)

	require.Eventually(t, func() bool {
		u, s := got.counts()
		return u == 7 && s == 6
	}, 10*time.Second, 100*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, match.ActionStartInnings, got.updates[0].Update.Action.Type())
	for i, msg := range got.updates[1:] {
		ball, ok := msg.Update.Action.(match.Ball)
		require.True(t, ok, "update %d is %T", i, msg.Update.Action)
		assert.Equal(t, runs[i], ball.Runs)
	}
	last := got.scores[len(got.scores)-1]
	assert.Equal(t, 16, last.Score.Teams[teams[0].TeamID].Score.Runs)
}

func subscribe(t *testing.T, url, matchID string) *captured {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	got := &captured{}
	_, err = nc.Subscribe("updates", func(m *nats.Msg) {
		var msg contracts.UpdateMessage
		if json.Unmarshal(m.Data, &msg) != nil || msg.MatchID != matchID {
			return
		}
		got.mu.Lock()
		got.updates = append(got.updates, msg)
		got.mu.Unlock()
	})
	require.NoError(t, err)
	_, err = nc.Subscribe("score", func(m *nats.Msg) {
		var msg contracts.ScoreMessage
		if json.Unmarshal(m.Data, &msg) != nil || msg.MatchID != matchID {
			return
		}
		got.mu.Lock()
		got.scores = append(got.scores, msg)
		got.mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return got
}

func call(t *testing.T, method, path, token string, body, out any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, "http://"+apiAddr+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Less(t, resp.StatusCode, 300, "%s %s: %s", method, path, raw)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out))
	}
}

func players(side string) []match.Player {
	out := make([]match.Player, 11)
	for i := range out {
		out[i] = match.Player{FirstName: side, LastName: fmt.Sprint(i + 1), Role: "allrounder"}
	}
	return out
}

func reachable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate repository root from %s", dir)
		}
		dir = parent
	}
}

func buildAPI(t *testing.T, root string) {
	t.Helper()
	buildOnce.Do(func() {
		cmd := exec.Command("go", "build", "-o", "bin/scoring-api", "./cmd/scoring-api")
		cmd.Dir = root
		if output, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("go build: %v\n%s", err, output)
		}
	})
	require.NoError(t, buildErr)
}

func startProcess(t *testing.T, dir string, name string, env []string, command string, args ...string) *managedProcess {
	t.Helper()
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	p := &managedProcess{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start %s: %v", name, err)
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func stopProcess(p *managedProcess) {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func waitForHTTP(t *testing.T, url string, timeout time.Duration, p *managedProcess) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if exited, err := p.state(); exited {
			t.Fatalf("%s exited: %v\n%s", p.name, err, p.debugString())
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				cancel()
				return
			}
		}
		cancel()
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s\n%s", url, p.debugString())
}

func (p *managedProcess) debugString() string {
	return fmt.Sprintf("[%s]\nstdout:\n%s\nstderr:\n%s\n", p.name, p.stdout.String(), p.stderr.String())
}

func (p *managedProcess) state() (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exited, p.exitErr
}
