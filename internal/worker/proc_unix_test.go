//go:build unix

package worker

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupExists(t *testing.T) {
	requireShell(t)
	assert.False(t, groupExists(&exec.Cmd{}), "unstarted command has no group")

	cmd := exec.Command("/bin/sh", "-c", "sleep 5")
	setProcessGroup(cmd)
	require.NoError(t, cmd.Start())
	assert.True(t, groupExists(cmd))

	require.NoError(t, signalGroup(cmd, sigKill))
	_ = cmd.Wait()
	assert.False(t, groupExists(cmd), "reaped group with no members should be gone")

	// Sweeping an empty group is a no-op.
	killGroup(cmd)
}

func TestInvoke_ExitSweepsLeftoverDescendants(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	childPID := filepath.Join(dir, "child.pid")
	script := writeWorker(t, fmt.Sprintf(`
sleep 10 >/dev/null 2>&1 &
echo $! > %q
echo '{"done": true}'
`, childPID))
	p := New(Config{Command: []string{script}, Timeout: 5 * time.Second, GracePeriod: 500 * time.Millisecond})

	res := p.Invoke(context.Background(), descriptor())
	require.True(t, res.Success, "error: %s stderr: %s", res.Error, res.Stderr)

	pid := readPID(t, childPID)
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond,
		"background child %d outlived its worker", pid)
}
