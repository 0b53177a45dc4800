package log

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// createTestLogger builds a LogHelper writing JSON entries into a buffer.
func createTestLogger() (*LogHelper, *bytes.Buffer) {
	buf := &bytes.Buffer{}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)

	zapLogger := zap.New(core)
	kratosLogger := NewKratosAdapter(zapLogger)
	helper := NewLogHelper(kratosLogger)

	return helper, buf
}

func TestNewLogHelper(t *testing.T) {
	zapLogger := zap.NewNop()
	kratosLogger := NewKratosAdapter(zapLogger)
	helper := NewLogHelper(kratosLogger)

	if helper == nil {
		t.Fatal("NewLogHelper returned nil")
	}
}

func TestLogHelper_API(t *testing.T) {
	helper, buf := createTestLogger()

	helper.API("stats requested", "endpoint", "/api/v1/guard/health")

	output := buf.String()
	if output == "" {
		t.Error("API log produced no output")
	}
	if !strings.Contains(output, "api") {
		t.Error("API log missing 'api' type field")
	}
}

func TestLogHelper_Request(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Request("POST", "/api/v1/tenants", 200, 150)

	output := buf.String()
	if output == "" {
		t.Error("Request log produced no output")
	}
	if !strings.Contains(output, "POST") {
		t.Error("Request log missing method")
	}
	if !strings.Contains(output, "200") {
		t.Error("Request log missing status code")
	}
}

func TestLogHelper_RateLimit(t *testing.T) {
	helper, buf := createTestLogger()

	helper.RateLimit("admission denied", "tenant", "tenant-a")

	output := buf.String()
	if output == "" {
		t.Error("RateLimit log produced no output")
	}
	if !strings.Contains(output, "rate_limit") {
		t.Error("RateLimit log missing 'rate_limit' type field")
	}
}

func TestLogHelper_Breaker(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Breaker("breaker opened", "tenant", "tenant-a", "failures", 5)

	output := buf.String()
	if output == "" {
		t.Error("Breaker log produced no output")
	}
	if !strings.Contains(output, "breaker") {
		t.Error("Breaker log missing 'breaker' type field")
	}
}

func TestLogHelper_Session(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Session("session acquired", "tenant", "tenant-a")

	output := buf.String()
	if !strings.Contains(output, "session") {
		t.Error("Session log missing 'session' type field")
	}
}

func TestLogHelper_Health(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Health("status changed", "tenant", "tenant-a", "status", "degraded")

	output := buf.String()
	if !strings.Contains(output, "health") {
		t.Error("Health log missing 'health' type field")
	}
	if !strings.Contains(output, "degraded") {
		t.Error("Health log missing status value")
	}
}

func TestLogHelper_Database(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Database("query executed", "table", "tenants")

	output := buf.String()
	if !strings.Contains(output, "database") {
		t.Error("Database log missing 'database' type field")
	}
}

func TestLogHelper_Redis(t *testing.T) {
	helper, buf := createTestLogger()

	helper.Redis("bucket read", "key", "guard:bucket:global")

	output := buf.String()
	if !strings.Contains(output, "redis") {
		t.Error("Redis log missing 'redis' type field")
	}
}

func TestLogHelper_RequestWithContext(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "req1234abcd", "tenant-a")
	helper.RequestWithContext(ctx, "GET", "/api/v1/guard/pool", 200, 12)

	output := buf.String()
	if !strings.Contains(output, "req1234abcd") {
		t.Error("RequestWithContext log missing request id")
	}
	if !strings.Contains(output, "tenant-a") {
		t.Error("RequestWithContext log missing tenant")
	}
}

func TestLogHelper_RequestWithContext_SlowRequest(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "reqslow0000", "")
	helper.RequestWithContext(ctx, "GET", "/api/v1/guard/health", 200, 2500)

	output := buf.String()
	if !strings.Contains(output, "slow_request") {
		t.Error("slow request was not flagged")
	}
	if !strings.Contains(output, "2500") {
		t.Error("slow request log missing duration")
	}
}

func TestLogHelper_AllTypes(t *testing.T) {
	// Every helper must be callable without panicking.
	helper, _ := createTestLogger()

	helper.Success("tenant registered")
	helper.Scheduler("sweep completed")
	helper.Startup("service started")
	helper.Performance("admission took 2ms")
	helper.Audit("breaker reset by operator")
	helper.Security("credential rotated")
	helper.Concurrency("permit acquired")
	helper.Snapshot("snapshots stored")
	helper.Retry("attempt 2 scheduled")
}

func TestLogHelper_CacheStats(t *testing.T) {
	helper, buf := createTestLogger()

	helper.CacheStats(context.Background(), "tenant_cache", 10, 1024, 90, 10, 0)

	output := buf.String()
	if !strings.Contains(output, "tenant_cache") {
		t.Error("CacheStats log missing cache name")
	}
	if !strings.Contains(output, "90.00%") {
		t.Error("CacheStats log missing hit rate")
	}
}

func TestLogHelper_ErrorCount(t *testing.T) {
	helper, buf := createTestLogger()

	ctx := WithRequestContext(context.Background(), "reqerr00001", "tenant-b")
	helper.ErrorCount(ctx, "transient_network", 3)

	output := buf.String()
	if !strings.Contains(output, "transient_network") {
		t.Error("ErrorCount log missing error type")
	}
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
