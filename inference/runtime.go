package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryEnv names the environment variable that points at the ONNX Runtime
// shared library.
const LibraryEnv = "ONNXRUNTIME_LIB"

// defaultLibraryName is the platform file name of the shared library.
func defaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// ResolveLibrary picks the shared library: explicit path, then $ONNXRUNTIME_LIB,
// then lib/<platform name> next to the working directory.
func ResolveLibrary(explicit string) (string, error) {
	candidates := []string{explicit, os.Getenv(LibraryEnv), filepath.Join("lib", defaultLibraryName())}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return filepath.Abs(c)
		}
	}
	return "", fmt.Errorf("onnxruntime library not found (set --onnxruntime-lib or $%s)", LibraryEnv)
}

// InitRuntime loads the shared library and initialises the ORT environment.
// The returned func tears it down.
func InitRuntime(libPath string) (func() error, error) {
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return ort.DestroyEnvironment, nil
}
