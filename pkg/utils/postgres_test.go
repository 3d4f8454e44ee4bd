package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 25 || got.MaxIdleConns != 25 {
		t.Fatalf("unexpected pool sizes: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout %v", got.PingTimeout)
	}
}

func TestPostgresPoolConfig_KeepsExplicitValues(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 4, ConnMaxLifetime: time.Minute}.withDefaults()
	if got.MaxOpenConns != 4 || got.ConnMaxLifetime != time.Minute {
		t.Fatalf("explicit values overwritten: %+v", got)
	}
}
