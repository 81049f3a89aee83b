package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindConfig, "invalid interval")
	if err.Error() != "invalid interval" {
		t.Errorf("expected 'invalid interval', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindFatal, "cannot start sampler")
	if wrapped.Error() != "cannot start sampler: invalid interval" {
		t.Errorf("expected 'cannot start sampler: invalid interval', got '%s'", wrapped.Error())
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, KindFatal, "should stay nil") != nil {
		t.Error("expected Wrap(nil, ...) to return nil")
	}
	if Wrapf(nil, KindFatal, "should stay nil: %d", 1) != nil {
		t.Error("expected Wrapf(nil, ...) to return nil")
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindConfig, "invalid interval")
	if GetKind(err) != KindConfig {
		t.Errorf("expected KindConfig, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindFatal, "failed")
	if GetKind(wrapped) != KindFatal {
		t.Errorf("expected KindFatal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestWithAttrsOnOurError(t *testing.T) {
	err := New(KindTransient, "counter read failed")
	err = WithAttrs(err, map[string]any{"iface": "Wi-Fi", "attempt": 3})

	attrs := Attrs(err)
	if attrs["iface"] != "Wi-Fi" {
		t.Errorf("expected Wi-Fi, got %v", attrs["iface"])
	}
	if attrs["attempt"] != 3 {
		t.Errorf("expected 3, got %v", attrs["attempt"])
	}
}

func TestWithAttrsMergesAcrossCalls(t *testing.T) {
	err := New(KindTransient, "counter read failed")
	err = WithAttrs(err, map[string]any{"iface": "Wi-Fi"})
	err = WithAttrs(err, map[string]any{"attempt": 3})

	attrs := Attrs(err)
	if attrs["iface"] != "Wi-Fi" || attrs["attempt"] != 3 {
		t.Errorf("expected both keys to survive two WithAttrs calls, got %v", attrs)
	}
}

func TestWithAttrsPromotesPlainError(t *testing.T) {
	plain := errors.New("boom")
	tagged := WithAttrs(plain, map[string]any{"component": "sampler"})

	if GetKind(tagged) != KindUnknown {
		t.Errorf("expected a plain error promoted to KindUnknown, got %v", GetKind(tagged))
	}
	if Attrs(tagged)["component"] != "sampler" {
		t.Errorf("expected component=sampler, got %v", Attrs(tagged))
	}
	if tagged.Error() != "boom" {
		t.Errorf("expected message to be preserved, got %q", tagged.Error())
	}
}

func TestWithAttrsNilOrEmptyIsNoop(t *testing.T) {
	if WithAttrs(nil, map[string]any{"a": 1}) != nil {
		t.Error("expected WithAttrs(nil, ...) to return nil")
	}
	err := New(KindConfig, "x")
	if WithAttrs(err, nil) != err {
		t.Error("expected WithAttrs(err, nil) to return err unchanged")
	}
}
