package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStrictSinkReturnsTypedError(t *testing.T) {
	err := StrictSink{}.Unsupported("Sendinblue", "merge_data")

	var featureErr *UnsupportedFeatureError
	if !errors.As(err, &featureErr) {
		t.Fatalf("expected UnsupportedFeatureError, got %v", err)
	}
	if featureErr.Feature != "merge_data" {
		t.Fatalf("unexpected feature %q", featureErr.Feature)
	}
	if err.Error() != "Sendinblue does not support merge_data" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCollectSinkKeepsOrder(t *testing.T) {
	sink := &CollectSink{}
	_ = sink.Unsupported("Sendinblue", "inline attachments")
	_ = sink.Unsupported("Sendinblue", "merge_data")

	got := sink.Features()
	if len(got) != 2 || got[0] != "inline attachments" || got[1] != "merge_data" {
		t.Fatalf("unexpected features %v", got)
	}
}

func TestLogSinkWritesWarning(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	if err := sink.Unsupported("Sendinblue", "multiple tags"); err != nil {
		t.Fatalf("log sink must not fail: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"feature":"multiple tags"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

func TestTeeReturnsFirstError(t *testing.T) {
	collect := &CollectSink{}
	sink := Tee(collect, StrictSink{})

	err := sink.Unsupported("Sendinblue", "merge_data")
	if err == nil {
		t.Fatalf("expected strict sink error to propagate")
	}
	if len(collect.Features()) != 1 {
		t.Fatalf("expected collector to observe the signal")
	}
}
