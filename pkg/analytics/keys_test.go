package analytics

import (
	"testing"
	"time"
)

func TestKeyNaming(t *testing.T) {
	if got := Delta.LiveKey("P1"); got != "analytics:delta:P1" {
		t.Errorf("unexpected delta key %s", got)
	}
	if got := Buffer.LiveKey("P1"); got != "analytics:buffer:P1" {
		t.Errorf("unexpected buffer key %s", got)
	}
	at := time.UnixMilli(1700000000123)
	tmp := TempKey(Delta.LiveKey("P1"), at)
	if tmp != "analytics:delta:P1:tmp:1700000000123" {
		t.Errorf("unexpected temp key %s", tmp)
	}
	if !IsTempKey(tmp) || IsTempKey(Delta.LiveKey("P1")) {
		t.Error("IsTempKey misclassified keys")
	}
	if Delta.RetryKey != "analytics:retry:delta" || Buffer.RetryKey != "analytics:retry:buffer" {
		t.Error("unexpected retry list names")
	}
}

func TestProjectID(t *testing.T) {
	cases := map[string]string{
		"analytics:delta:P1":              "P1",
		"analytics:delta:P1:tmp:17":       "P1",
		"analytics:delta:shop_eu-2:tmp:1": "shop_eu-2",
	}
	for key, want := range cases {
		got, ok := Delta.ProjectID(key)
		if !ok || got != want {
			t.Errorf("%s: expected %s, got %s (ok=%v)", key, want, got, ok)
		}
	}
	if _, ok := Delta.ProjectID("analytics:buffer:P1"); ok {
		t.Error("expected buffer key to be rejected by the delta kind")
	}
	for _, key := range []string{
		"analytics:delta:",
		"analytics:delta:victim:tmp:1",
		"analytics:delta:victim:tmp:1:tmp:17",
		"analytics:delta:org:shop",
	} {
		if p, ok := Delta.ProjectID(key); ok {
			t.Errorf("%s: expected rejection, got project %q", key, p)
		}
	}
}

func TestIsTempKeyNeedsMillisSuffix(t *testing.T) {
	for key, want := range map[string]bool{
		"analytics:delta:P1:tmp:1700000000123": true,
		"analytics:delta:P1":                   false,
		"analytics:delta:P1:tmp:":              false,
		"analytics:delta:P1:tmp:17x":           false,
		"analytics:delta:P1:tmp:17:more":       false,
	} {
		if got := IsTempKey(key); got != want {
			t.Errorf("%s: expected %v, got %v", key, want, got)
		}
	}
}
