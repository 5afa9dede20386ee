package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"crossjoin/internal/logging"
	"crossjoin/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	Mode      string
	LeftDir   string
	RightDir  string
	WorkDir   string
	OutputDir string

	TransformWorkers int
	JoinWorkers      int
	QueueDepth       int
	MaxRetries       int

	TaskTimeout    time.Duration
	PollInterval   time.Duration
	MaxWallTime    time.Duration
	InterTaskPause time.Duration

	IntermediateCodec string
	IntermediateExt   string
	OutputExt         string

	MetricsEnabled bool
	MetricsPort    string

	// Derived paths
	LedgerPath string
}

// Extensions per intermediate codec. The codec decides the container:
// png streams ride in Matroska, everything else defaults to mkv too.
var codecExtensions = map[string]string{
	"png":      "mkv",
	"ffv1":     "mkv",
	"huffyuv":  "mkv",
	"rawvideo": "mkv",
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	mode := strings.ToLower(getEnv("MODE", "local"))
	leftDir := getEnv("LEFT_DIR", "/videos/left")
	rightDir := getEnv("RIGHT_DIR", "/videos/right")
	workDir := getEnv("WORK_DIR", "/work")
	outputDir := getEnv("OUTPUT_DIR", "/output")

	transformWorkers := workers.ForTransform(0)
	joinWorkers := workers.ForJoin(0)
	queueDepth := getEnvInt("QUEUE_DEPTH", 16)
	maxRetries := getEnvInt("MAX_RETRIES", 2)

	taskTimeout := getEnvDuration("TASK_TIMEOUT", 30*time.Minute)
	pollInterval := getEnvDuration("POLL_INTERVAL", 10*time.Second)
	maxWallTime := getEnvDuration("MAX_WALL_TIME", 0)
	interTaskPause := getEnvDuration("INTER_TASK_PAUSE", 0)

	intermediateCodec := getEnv("INTERMEDIATE_CODEC", "png")
	outputExt := getEnv("OUTPUT_EXT", "mp4")

	metricsEnabled := getEnvBool("METRICS_ENABLED", true)
	metricsPort := getEnv("METRICS_PORT", "9090")

	logging.Info("  MODE:                %s", mode)
	logging.Info("  LEFT_DIR:            %s", leftDir)
	logging.Info("  RIGHT_DIR:           %s", rightDir)
	logging.Info("  WORK_DIR:            %s", workDir)
	logging.Info("  OUTPUT_DIR:          %s", outputDir)
	logging.Info("  TRANSFORM_WORKERS:   %d", transformWorkers)
	logging.Info("  JOIN_WORKERS:        %d", joinWorkers)
	logging.Info("  QUEUE_DEPTH:         %d", queueDepth)
	logging.Info("  MAX_RETRIES:         %d", maxRetries)
	logging.Info("  TASK_TIMEOUT:        %s", taskTimeout)
	logging.Info("  POLL_INTERVAL:       %s", pollInterval)
	logging.Info("  MAX_WALL_TIME:       %s", wallTimeString(maxWallTime))
	logging.Info("  INTER_TASK_PAUSE:    %s", interTaskPause)
	logging.Info("  INTERMEDIATE_CODEC:  %s", intermediateCodec)
	logging.Info("  OUTPUT_EXT:          %s", outputExt)
	logging.Info("  METRICS_ENABLED:     %v", metricsEnabled)
	logging.Info("  METRICS_PORT:        %s", metricsPort)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	switch mode {
	case "local", "transform", "join":
	default:
		return nil, fmt.Errorf("invalid MODE %q: must be local, transform or join", mode)
	}

	intermediateExt, ok := codecExtensions[intermediateCodec]
	if !ok {
		logging.Warn("  Unknown INTERMEDIATE_CODEC %q, container defaults to mkv", intermediateCodec)
		intermediateExt = "mkv"
	}

	// Resolve paths
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	for name, dir := range map[string]*string{
		"left": &leftDir, "right": &rightDir, "work": &workDir, "output": &outputDir,
	} {
		*dir, err = filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s directory path: %w", name, err)
		}
	}
	logging.Info("  Left directory (absolute):   %s", leftDir)
	logging.Info("  Right directory (absolute):  %s", rightDir)
	logging.Info("  Work directory (absolute):   %s", workDir)
	logging.Info("  Output directory (absolute): %s", outputDir)

	// Source directories must exist when this process transforms.
	if mode != "join" {
		for name, dir := range map[string]string{"left": leftDir, "right": rightDir} {
			if err := requireDirectory(dir, name); err != nil {
				return nil, err
			}
		}
	}

	// Work and output directories are created on demand and must be
	// writable: the work directory also holds the ledger.
	for name, dir := range map[string]string{"work": workDir, "output": outputDir} {
		if err := ensureDirectory(dir, name); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", name, err)
		}
		if err := testWriteAccess(dir); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", name, err)
		}
		logging.Info("  [OK] %s directory is writable", name)
	}

	config := &Config{
		Mode:              mode,
		LeftDir:           leftDir,
		RightDir:          rightDir,
		WorkDir:           workDir,
		OutputDir:         outputDir,
		TransformWorkers:  transformWorkers,
		JoinWorkers:       joinWorkers,
		QueueDepth:        queueDepth,
		MaxRetries:        maxRetries,
		TaskTimeout:       taskTimeout,
		PollInterval:      pollInterval,
		MaxWallTime:       maxWallTime,
		InterTaskPause:    interTaskPause,
		IntermediateCodec: intermediateCodec,
		IntermediateExt:   intermediateExt,
		OutputExt:         outputExt,
		MetricsEnabled:    metricsEnabled,
		MetricsPort:       metricsPort,
		LedgerPath:        filepath.Join(workDir, "crossjoin.db"),
	}

	return config, nil
}

// LogFFmpegCheck verifies the ffmpeg binary is usable before any task
// depends on it.
func LogFFmpegCheck() error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("FFMPEG CHECK")
	logging.Info("------------------------------------------------------------")

	if err := checkFFmpeg(); err != nil {
		return err
	}
	logging.Info("  [OK] FFmpeg is available")
	return nil
}

// LogLedgerInit logs ledger initialization
func LogLedgerInit(path string, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("LEDGER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Ledger at %s opened in %v", path, duration)
}

// LogPipelineStart logs the transition into the pipeline run
func LogPipelineStart(mode string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("PIPELINE START (%s mode)", strings.ToUpper(mode))
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs the received signal
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("Received %s, shutting down...", signal)
}

// LogShutdownComplete logs the end of a clean shutdown
func LogShutdownComplete() {
	logging.Info("Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
  ____ ____   ___  ____ ____     _  ___ ___ _   _
 / ___|  _ \ / _ \/ ___/ ___|   | |/ _ \_ _| \ | |
| |   | |_) | | | \___ \___ \_  | | | | | ||  \| |
| |___|  _ <| |_| |___) |__) | |_| | |_| | || |\  |
 \____|_| \_\\___/|____/____/ \___/ \___/___|_| \_|

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func requireDirectory(path, name string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s directory %s does not exist", name, path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s directory: %w", name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s path %s exists but is not a directory", name, path)
	}
	logging.Debug("  [OK] %s directory exists", name)
	return nil
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
		// Don't return error since write access was confirmed
	}
	return nil
}

func checkFFmpeg() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH")
	}
	logging.Debug("  FFmpeg path: %s", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", "-version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(lines[0]))
	}

	return nil
}

func wallTimeString(d time.Duration) string {
	if d <= 0 {
		return "unbounded"
	}
	return d.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration value for %s: %q, using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
