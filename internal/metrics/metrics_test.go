package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	// Must not panic with nil collectors.
	AddStreamBytes("serial", 10)
	IncSentence("GGA", SentenceOK)
	IncFix(FixPublished)
	SetNavigating(true)
	IncControlCall("start", 0)
	IncAdapterPublish("mqtt", false)
}

func TestInitRegistersOnce(t *testing.T) {
	Init()
	Init()

	IncSentence("GGA", SentenceOK)
	IncControlCall("start", 2)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{metricPrefix + "sentences_total", metricPrefix + "control_calls_total"} {
		if !found[name] {
			t.Fatalf("metric %s not registered", name)
		}
	}
}

func TestCodeLabel(t *testing.T) {
	cases := map[int]string{0: "0", -1: "negative", 3: "3", 42: "other"}
	for code, want := range cases {
		if got := codeLabel(code); got != want {
			t.Fatalf("codeLabel(%d)=%q want %q", code, got, want)
		}
	}
}
