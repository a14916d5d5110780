package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/deepresearch/config"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := LoadPolicy(config.SecurityConfig{SandboxProvider: "yaegi", DefaultTimeout: 2 * time.Second, MaxOutputBytes: 1024})
	require.NoError(t, err)
	return p
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "sandbox:\n  provider: yaegi\n  timeout: 3s\n  memory: 128Mi\n  allowed_imports: [fmt, strings]\n  network:\n    enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	p, err := LoadPolicy(config.SecurityConfig{PolicyFile: path, MaxOutputBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, p.TimeoutDuration())
	assert.Equal(t, []string{"fmt", "strings"}, p.AllowedImports)
	assert.Equal(t, 10, p.MaxOutputBytes)
	assert.Equal(t, 128*1024*1024.0, parseMemoryBytes(p.Memory))
}

func TestLoadPolicyRejectsNetworkAndUnsafeImports(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"network": "sandbox:\n  provider: yaegi\n  timeout: 1s\n  network:\n    enabled: true\n",
		"os":      "sandbox:\n  provider: yaegi\n  timeout: 1s\n  allowed_imports: [os]\n",
		"docker":  "sandbox:\n  provider: docker\n  timeout: 1s\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := LoadPolicy(config.SecurityConfig{PolicyFile: path})
		assert.Error(t, err, name)
	}
}

func TestYaegiRunCapturesReturnAndStdout(t *testing.T) {
	y := NewYaegi(testPolicy(t), zap.NewNop())
	code := `import (
	"fmt"
	"strconv"
)

func Run() (string, error) {
	sum := 0
	for i := 1; i <= 10; i++ {
		sum += i
	}
	fmt.Println("computing")
	return strconv.Itoa(sum), nil
}`
	res, err := y.Run(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, "55", res.Return)
	assert.Contains(t, res.Stdout, "computing")
	assert.Equal(t, "computing\n55", res.Output())
}

func TestYaegiRejectsForbiddenImport(t *testing.T) {
	y := NewYaegi(testPolicy(t), nil)
	_, err := y.Run(context.Background(), "import \"os\"\n\nfunc Run() (string, error) { return os.Getenv(\"HOME\"), nil }")
	assert.ErrorIs(t, err, ErrForbiddenImport)
}

func TestYaegiRequiresEntrypoint(t *testing.T) {
	y := NewYaegi(testPolicy(t), nil)
	_, err := y.Run(context.Background(), "func Other() int { return 1 }")
	assert.ErrorIs(t, err, ErrNoEntrypoint)
}

func TestYaegiTimeout(t *testing.T) {
	p := testPolicy(t)
	p.Timeout = "50ms"
	y := NewYaegi(p, nil)
	_, err := y.Run(context.Background(), "import \"time\"\n\nfunc Run() (string, error) { time.Sleep(time.Second); return \"late\", nil }")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestYaegiTimeoutStopsBusyLoop(t *testing.T) {
	p := testPolicy(t)
	p.Timeout = "50ms"
	y := NewYaegi(p, nil)
	code := `func Run() (string, error) {
	n := 0
	for {
		n++
	}
}`

	before := runtime.NumGoroutine()
	for i := 0; i < 3; i++ {
		_, err := y.Run(context.Background(), code)
		require.ErrorIs(t, err, ErrTimeout)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 20*time.Millisecond, "cancelled snippets must not keep running")
}

func TestYaegiReturnedError(t *testing.T) {
	y := NewYaegi(testPolicy(t), nil)
	code := "import \"errors\"\n\nfunc Run() (string, error) { return \"partial\", errors.New(\"no data\") }"
	res, err := y.Run(context.Background(), code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
	assert.Equal(t, "partial", res.Return)
}

func TestCappedWriter(t *testing.T) {
	c := &capped{limit: 4}
	n, err := c.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", c.String())
	assert.True(t, c.truncated)
}
