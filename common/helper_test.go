package common

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TAB_RELAY_TEST_ENV", "value")
	if got := GetEnv("TAB_RELAY_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected value, got %s", got)
	}
	if got := GetEnv("TAB_RELAY_TEST_ENV_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestParseHelpers(t *testing.T) {
	if got := ParseDuration("1500ms", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("unexpected duration: %s", got)
	}
	if got := ParseDuration("soon", time.Second); got != time.Second {
		t.Fatalf("expected fallback duration, got %s", got)
	}
	if got := ParseInt("7", 1); got != 7 {
		t.Fatalf("unexpected int: %d", got)
	}
	if got := ParseInt("", 1); got != 1 {
		t.Fatalf("expected fallback int, got %d", got)
	}
	if got := ParseBool("1", false); !got {
		t.Fatal("expected true")
	}
	if got := ParseBool("maybe", true); !got {
		t.Fatal("expected fallback true")
	}
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})

	SetupLogging("debug", "JSON")
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", logrus.StandardLogger().Formatter)
	}

	SetupLogging("loud", "text")
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected text formatter, got %T", logrus.StandardLogger().Formatter)
	}
}
