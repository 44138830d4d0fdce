package batch

import (
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"testing"
)

const childEnv = "TINYCLM_BATCH_CHILD"

// TestSampleWithoutRuntimeOverride reruns the sampler in a fresh process with
// no assume-no-moving-gc override, so a dependency that refuses the current Go
// runtime at init fails here instead of at the first CLI invocation.
func TestSampleWithoutRuntimeOverride(t *testing.T) {
	if os.Getenv(childEnv) == "1" {
		b, err := Sample(newMemSource(64), 2, 8, rand.New(rand.NewSource(1)))
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if got := b.Labels.Shape(); len(got) != 1 || got[0] != 16 {
			t.Fatalf("label shape: got %v", got)
		}
		return
	}
	if testing.Short() {
		t.Skip("spawns a subprocess")
	}

	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "ASSUME_NO_MOVING_GC_UNSAFE") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, childEnv+"=1")

	cmd := exec.Command(os.Args[0], "-test.run=^TestSampleWithoutRuntimeOverride$", "-test.count=1")
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("child process failed: %v\n%s", err, out)
	}
}
