package config

import (
	"testing"
	"time"

	"github.com/Leganyst/consultation-slots/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DB.Driver != DriverPostgres {
		t.Fatalf("driver = %q, want postgres", cfg.DB.Driver)
	}
	if cfg.Schedule.OpenHour != 8 || cfg.Schedule.CloseHour != 17 {
		t.Fatalf("window = %d..%d, want 8..17", cfg.Schedule.OpenHour, cfg.Schedule.CloseHour)
	}
	if cfg.Schedule.SlotDurationMin != 60 {
		t.Fatalf("slot duration = %d, want 60", cfg.Schedule.SlotDurationMin)
	}
	if cfg.Schedule.DeletePolicy() != model.DeletePolicyKeepOccupied {
		t.Fatalf("delete policy = %q, want keep_occupied", cfg.Schedule.DeletePolicy())
	}
	if cfg.Schedule.PendingPaymentTTL != 0 {
		t.Fatalf("pending payment ttl = %v, want disabled", cfg.Schedule.PendingPaymentTTL)
	}
	if cfg.Outbox.BaseBackoff != 30*time.Second {
		t.Fatalf("outbox base backoff = %v", cfg.Outbox.BaseBackoff)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", ":memory:")
	t.Setenv("SCHEDULE_TIMEZONE", "Europe/Moscow")
	t.Setenv("BLOCK_DELETE_POLICY", "release_slot")
	t.Setenv("PENDING_PAYMENT_TTL", "48h")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DB.Driver != DriverSQLite || cfg.DB.SQLitePath != ":memory:" {
		t.Fatalf("db = %+v", cfg.DB)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil || loc.String() != "Europe/Moscow" {
		t.Fatalf("location = %v, %v", loc, err)
	}
	if cfg.Schedule.DeletePolicy() != model.DeletePolicyReleaseSlot {
		t.Fatalf("delete policy = %q", cfg.Schedule.DeletePolicy())
	}
	if cfg.Schedule.PendingPaymentTTL != 48*time.Hour {
		t.Fatalf("ttl = %v, want 48h", cfg.Schedule.PendingPaymentTTL)
	}
	brokers := cfg.Kafka.BrokerList()
	if len(brokers) != 2 || brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", brokers)
	}
}

func TestLoad_RejectsBadWindow(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCHEDULE_OPEN_HOUR", "18")
	t.Setenv("SCHEDULE_CLOSE_HOUR", "9")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for inverted window")
	}
}

func TestLoad_RejectsUnknownDeletePolicy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BLOCK_DELETE_POLICY", "purge")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown delete policy")
	}
}

func TestScheduleConfig_Location(t *testing.T) {
	loc, err := ScheduleConfig{TimeZone: "Europe/Moscow"}.Location()
	if err != nil || loc.String() != "Europe/Moscow" {
		t.Fatalf("location = %v, %v", loc, err)
	}
	if _, err := (ScheduleConfig{TimeZone: "Mars/Olympus"}).Location(); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}

	t.Chdir(t.TempDir())
	t.Setenv("SCHEDULE_TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatalf("Load must reject an unknown timezone")
	}
}
