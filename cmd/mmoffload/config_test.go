package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/mmoffload/internal/device/emulator"
	"github.com/samcharles93/mmoffload/internal/offload"
)

type setFlags map[string]bool

func (s setFlags) IsSet(name string) bool { return s[name] }

func resetPipelineVars() {
	size = offload.DefaultSize
	maxSize = offload.DefaultMaxSize
	blockSize = offload.DefaultBlockSize
	kernelName = offload.DefaultKernel
	unaligned = false
	runtimeName = "auto"
	xclbinDir = "."
	deviceName = ""
	workers = 0
	logLevel = "info"
	logFormat = "pretty"
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("explicit file is parsed", func(t *testing.T) {
		path := writeConfig(t, `
size: 64
block_size: 32
aligned: false
runtime: emulator
xclbin_dir: /opt/xclbin
log_level: debug
server_address: 0.0.0.0:9000
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Size == nil || *cfg.Size != 64 || cfg.BlockSize == nil || *cfg.BlockSize != 32 {
			t.Fatalf("unexpected geometry: %+v", cfg)
		}
		if cfg.Aligned == nil || *cfg.Aligned {
			t.Fatalf("expected aligned=false, got %v", cfg.Aligned)
		}
		if cfg.MaxSize != nil {
			t.Fatalf("unset max_size should stay nil")
		}
		if cfg.Runtime != "emulator" || cfg.XclbinDir != "/opt/xclbin" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("expected error for missing explicit config")
		}
	})

	t.Run("missing default file is ignored", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Setenv("HOME", t.TempDir())
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Size != nil || cfg.Runtime != "" {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("default location under XDG_CONFIG_HOME", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		if err := os.MkdirAll(filepath.Join(dir, "mmoffload"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "mmoffload", "config.yaml"), []byte("kernel: mmBlocked\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.Kernel != "mmBlocked" {
			t.Fatalf("unexpected kernel %q", cfg.Kernel)
		}
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := writeConfig(t, "size: [1, 2\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestApplyPipelineConfig(t *testing.T) {
	n, b, aligned, w := 128, 32, false, 3
	cfg := Config{
		Size:       &n,
		BlockSize:  &b,
		Aligned:    &aligned,
		Kernel:     "mmBlocked",
		Runtime:    "emulator",
		XclbinDir:  "/srv/xclbin",
		DeviceName: "emu0",
		Workers:    &w,
	}

	t.Run("file fills unset flags", func(t *testing.T) {
		resetPipelineVars()
		applyPipelineConfig(setFlags{}, cfg)
		got := pipelineConfig()
		if got.Size != 128 || got.BlockSize != 32 || got.Aligned || got.Kernel != "mmBlocked" {
			t.Fatalf("unexpected pipeline config %+v", got)
		}
		if got.MaxSize != offload.DefaultMaxSize {
			t.Fatalf("max size changed to %d", got.MaxSize)
		}
		if runtimeName != "emulator" || xclbinDir != "/srv/xclbin" || deviceName != "emu0" || workers != 3 {
			t.Fatalf("runtime vars not applied: %s %s %s %d", runtimeName, xclbinDir, deviceName, workers)
		}
	})

	t.Run("explicit flags win", func(t *testing.T) {
		resetPipelineVars()
		size = 48
		runtimeName = "opencl"
		applyPipelineConfig(setFlags{"size": true, "runtime": true, "unaligned": true}, cfg)
		if size != 48 || runtimeName != "opencl" {
			t.Fatalf("explicit flags overwritten: size=%d runtime=%s", size, runtimeName)
		}
		if unaligned {
			t.Fatal("unaligned flag was set explicitly and must not be overridden")
		}
		if blockSize != 32 {
			t.Fatalf("block size should still come from file, got %d", blockSize)
		}
	})
}

func TestApplyLoggingConfig(t *testing.T) {
	resetPipelineVars()
	applyLoggingConfig(setFlags{"debug": true}, Config{LogLevel: "error", LogFormat: "json"})
	if logLevel != "info" {
		t.Fatalf("--debug should keep the file level from applying, got %q", logLevel)
	}
	if logFormat != "json" {
		t.Fatalf("expected json format, got %q", logFormat)
	}
}

func TestApplyServeConfig(t *testing.T) {
	resetPipelineVars()
	addr := "127.0.0.1:8080"
	applyServeConfig(setFlags{}, Config{ServerAddress: ":9090"}, &addr)
	if addr != ":9090" {
		t.Fatalf("unexpected addr %q", addr)
	}
	addr = "127.0.0.1:8080"
	applyServeConfig(setFlags{"addr": true}, Config{ServerAddress: ":9090"}, &addr)
	if addr != "127.0.0.1:8080" {
		t.Fatalf("explicit addr overwritten: %q", addr)
	}
}

func TestPackOutputPath(t *testing.T) {
	if got := packOutputPath("out/../k.xclbin", ".", "dev", true); got != "k.xclbin" {
		t.Fatalf("explicit output: got %q", got)
	}
	if got := packOutputPath("", "bins", emulator.DefaultDeviceName, false); got != filepath.Join("bins", "matrixMult.xclbin") {
		t.Fatalf("default output: got %q", got)
	}
	want := filepath.Join("bins", "matrixMult.xilinx_u200_1_0.xclbin")
	if got := packOutputPath("", "bins", "xilinx_u200:1.0", true); got != want {
		t.Fatalf("per-device output: got %q want %q", got, want)
	}
}
