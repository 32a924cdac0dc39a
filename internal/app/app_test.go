package app

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repeatjob/internal/config"
)

var lineRE = regexp.MustCompile(`^start instance (\d+) of job (\d+) in background at unix timestamp (\d+)$`)

func testConfig(jobs int, unit time.Duration, insert, delay, interval, full int) *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "warn"
	d := func(n int) string { return (time.Duration(n) * unit).String() }
	cfg.Plan = config.PlanConfig{
		JobNum:         jobs,
		InsertInterval: d(insert),
		LaunchDelay:    d(delay),
		LaunchInterval: d(interval),
		FullRunTime:    d(full),
	}
	return cfg
}

func parseLines(t *testing.T, out string) map[int][]int {
	t.Helper()
	got := map[int][]int{}
	for _, line := range bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		m := lineRE.FindSubmatch(line)
		require.NotNil(t, m, "unexpected line %q", line)
		inst, _ := strconv.Atoi(string(m[1]))
		job, _ := strconv.Atoi(string(m[2]))
		got[job] = append(got[job], inst)
	}
	return got
}

func TestRunTwoJobScenario(t *testing.T) {
	// job_num=2 insert=1 delay=2 interval=3 full=10, scaled to 100ms units.
	cfg := testConfig(2, 100*time.Millisecond, 1, 2, 3, 10)
	var out bytes.Buffer

	a, err := New(cfg, &out)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, a.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 1100*time.Millisecond)

	got := parseLines(t, out.String())
	assert.Equal(t, map[int][]int{0: {1, 2, 3}, 1: {1, 2, 3}}, got)

	snap := a.Scheduler().Snapshot()
	assert.True(t, snap.Stopped)
	assert.Empty(t, snap.Jobs)
	assert.Equal(t, uint64(6), snap.Dispatcher.Dispatched)
	assert.Equal(t, 6.0, testutil.ToFloat64(a.m.DispatchedTotal))
}

func TestRunZeroJobs(t *testing.T) {
	cfg := testConfig(0, time.Millisecond, 1, 1, 1, 5)
	var out bytes.Buffer

	a, err := New(cfg, &out)
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, out.String())
}

func TestRunInterruptedStopsCleanly(t *testing.T) {
	cfg := testConfig(3, 10*time.Millisecond, 1, 0, 5, 100000)
	var out bytes.Buffer

	a, err := New(cfg, &out)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, a.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	got := parseLines(t, out.String())
	require.Len(t, got, 3)
	for job, inst := range got {
		for i, n := range inst {
			assert.Equal(t, i+1, n, "job %d", job)
		}
	}
	assert.True(t, a.Scheduler().Snapshot().Stopped)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestRunWithDiagServer(t *testing.T) {
	cfg := testConfig(1, 20*time.Millisecond, 1, 0, 5, 15)
	cfg.Diag = config.DiagConfig{Enabled: true, Addr: "127.0.0.1:0"}
	var out bytes.Buffer

	a, err := New(cfg, &out)
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return a.DiagAddr() != "" }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + a.DiagAddr() + "/snapshot")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop(context.Background()))
	assert.Empty(t, a.DiagAddr())
}
