package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion matches the onnxruntime_go release fastembed-go
// links against.
const DefaultONNXRuntimeVersion = "1.23.0"

// onnxPathEnv is where fastembed-go looks for the shared library.
const onnxPathEnv = "ONNX_PATH"

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// ErrUnsupportedPlatform indicates no onnxruntime release exists for GOOS/GOARCH.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var onnxPlatforms = map[string]string{
	"linux/amd64":  "linux-x64",
	"linux/arm64":  "linux-aarch64",
	"darwin/amd64": "osx-x86_64",
	"darwin/arm64": "osx-arm64",
}

// ONNXRuntime locates or installs the onnxruntime shared library.
type ONNXRuntime struct {
	// Path is an explicit library path; it wins over everything else.
	Path string
	// Dir is where a downloaded runtime is unpacked.
	Dir     string
	Version string
	Client  *http.Client
	Logger  *zap.Logger
	// BaseURL overrides the release URL template, for tests.
	BaseURL string
}

func platformArchive(goos, goarch string) (string, error) {
	if p, ok := onnxPlatforms[goos+"/"+goarch]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func libraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// Locate returns an existing library path, or "" if none is found.
func (r *ONNXRuntime) Locate() string {
	if r.Path != "" {
		return r.Path
	}
	if env := os.Getenv(onnxPathEnv); env != "" {
		return env
	}
	if r.Dir == "" {
		return ""
	}
	lib := filepath.Join(r.Dir, libraryName(runtime.GOOS))
	if _, err := os.Stat(lib); err == nil {
		return lib
	}
	return ""
}

// Ensure returns a usable library path, downloading the runtime into Dir if
// needed, and exports it for fastembed-go.
func (r *ONNXRuntime) Ensure(ctx context.Context) (string, error) {
	lib := r.Locate()
	if lib == "" {
		if r.Dir == "" {
			return "", fmt.Errorf("%w: onnxruntime not found and no install directory set", ErrInvalidConfig)
		}
		if err := r.download(ctx); err != nil {
			return "", fmt.Errorf("installing onnxruntime (set embeddings.onnx_path to skip): %w", err)
		}
		if lib = r.Locate(); lib == "" {
			return "", errors.New("onnxruntime download completed but library not found")
		}
	}
	if err := os.Setenv(onnxPathEnv, lib); err != nil {
		return "", fmt.Errorf("setting %s: %w", onnxPathEnv, err)
	}
	return lib, nil
}

func (r *ONNXRuntime) version() string {
	if r.Version == "" {
		return DefaultONNXRuntimeVersion
	}
	return r.Version
}

func (r *ONNXRuntime) download(ctx context.Context) error {
	platform, err := platformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	url := fmt.Sprintf(onnxReleaseURL, r.version(), platform, r.version())
	if r.BaseURL != "" {
		url = r.BaseURL
	}
	if r.Logger != nil {
		r.Logger.Info("downloading onnxruntime", zap.String("url", url), zap.String("dir", r.Dir))
	}

	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading onnxruntime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return extractLibraries(resp.Body, r.Dir, libraryName(runtime.GOOS))
}

// extractLibraries copies every file under the archive's lib/ directory into
// destDir, preserving symlinks, and fails if libName is absent.
func extractLibraries(src io.Reader, destDir, libName string) error {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	found := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if path.Base(path.Dir(name)) != "lib" || hdr.Typeflag == tar.TypeDir {
			continue
		}

		base := path.Base(name)
		dest := filepath.Join(destDir, base)
		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if strings.Contains(hdr.Linkname, "/") {
				continue
			}
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				continue
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		default:
			continue
		}
		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
