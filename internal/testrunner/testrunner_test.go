package testrunner

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePytest writes an executable shell script standing in for the Python interpreter.
// body runs with $out set to the --json-report-file argument.
func fakePytest(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake interpreter is a shell script")
	}

	script := `#!/bin/sh
out=""
for arg in "$@"; do
  case "$arg" in
    --json-report-file=*) out="${arg#--json-report-file=}" ;;
  esac
done
` + body + "\n"

	path := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}
