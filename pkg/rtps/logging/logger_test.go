package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jabolina/go-rtps/pkg/rtps/types"
)

func Test_ShouldToggleDebugLevel(t *testing.T) {
	var out bytes.Buffer
	log := NewDefaultLogger()
	log.Logger.SetOutput(&out)

	log.Debug("hidden")
	if out.Len() != 0 {
		t.Fatalf("debug written with debug off: %s", out.String())
	}

	if !log.ToggleDebug(true) {
		t.Fatalf("toggle returned false")
	}
	log.Debugf("visible %d", 1)
	if !strings.Contains(out.String(), "visible 1") {
		t.Errorf("debug not written with debug on: %s", out.String())
	}
}

func Test_ShouldAttachFields(t *testing.T) {
	var out bytes.Buffer
	log := NewDefaultLogger()
	log.Logger.SetOutput(&out)

	var l types.Logger = log
	With(l, "entity", "writer-1").Info("hello")
	if !strings.Contains(out.String(), "entity=writer-1") {
		t.Errorf("field not written: %s", out.String())
	}
}
