package rpc

import (
	"encoding/json"
	"testing"
	"time"
)

type fakeCapture struct {
	fps, quality int
}

func (f *fakeCapture) Params() (int, int)         { return f.fps, f.quality }
func (f *fakeCapture) SetParams(fps, q int) error { f.fps, f.quality = fps, q; return nil }

type fakeResolution struct{ w, h int }

func (f *fakeResolution) Current() (int, int) { return f.w, f.h }

func TestDispatchUnknownType(t *testing.T) {
	d := NewDispatcher(&Handlers{})
	resp := d.Dispatch([]byte(`{"type":"not_a_real_type"}`))
	if resp["ok"] != false {
		t.Fatalf("expected ok=false for unknown type, got %v", resp)
	}
}

func TestDispatchInvalidJSON(t *testing.T) {
	d := NewDispatcher(&Handlers{})
	resp := d.Dispatch([]byte(`not json`))
	if resp["ok"] != false {
		t.Fatalf("expected ok=false for invalid json, got %v", resp)
	}
}

func TestDispatchPingEchoesTimestamp(t *testing.T) {
	d := NewDispatcher(&Handlers{})
	resp := d.Dispatch([]byte(`{"type":"ping","ts":123.5}`))
	if resp["ok"] != true || resp["type"] != "pong" || resp["ts"] != 123.5 {
		t.Fatalf("unexpected ping response: %v", resp)
	}
}

func TestDispatchHelloUsesCaptureAndResolution(t *testing.T) {
	d := NewDispatcher(&Handlers{
		Capture:      &fakeCapture{fps: 45, quality: 70},
		Resolution:   &fakeResolution{w: 2560, h: 1440},
		AgentVersion: "1.0",
	})
	resp := d.Dispatch([]byte(`{"type":"hello","agent":"PC"}`))
	if resp["ok"] != true || resp["agent"] != "DGX" {
		t.Fatalf("unexpected hello response: %v", resp)
	}
	if resp["width"] != 2560 || resp["height"] != 1440 {
		t.Fatalf("expected resolution from provider, got %v/%v", resp["width"], resp["height"])
	}
	if resp["fps"] != 45 {
		t.Fatalf("expected fps from capture controller, got %v", resp["fps"])
	}
	if _, ok := resp["gpus"].([]string); !ok {
		t.Fatalf("expected gpus field to be a string slice, got %T", resp["gpus"])
	}
}

func TestDispatchHelloFallsBackWithoutProviders(t *testing.T) {
	d := NewDispatcher(&Handlers{})
	resp := d.Dispatch([]byte(`{"type":"hello"}`))
	if resp["width"] != 1920 || resp["height"] != 1080 {
		t.Fatalf("expected fallback resolution, got %v/%v", resp["width"], resp["height"])
	}
}

func TestDispatchSetCaptureParamsWithoutControllerErrors(t *testing.T) {
	d := NewDispatcher(&Handlers{})
	resp := d.Dispatch([]byte(`{"type":"set_capture_params","fps":30,"quality":60}`))
	if resp["ok"] != false {
		t.Fatalf("expected ok=false without a capture controller, got %v", resp)
	}
}

func TestDispatchSetCaptureParamsAppliesValues(t *testing.T) {
	cap := &fakeCapture{fps: 60, quality: 85}
	d := NewDispatcher(&Handlers{Capture: cap})
	resp := d.Dispatch([]byte(`{"type":"set_capture_params","fps":24,"quality":50}`))
	if resp["ok"] != true {
		t.Fatalf("expected ok=true, got %v", resp)
	}
	if cap.fps != 24 || cap.quality != 50 {
		t.Fatalf("expected controller updated, got fps=%d quality=%d", cap.fps, cap.quality)
	}
}

func TestDispatchShutdownInvokesCallback(t *testing.T) {
	called := make(chan struct{}, 1)
	d := NewDispatcher(&Handlers{Shutdown: func() { called <- struct{}{} }})
	resp := d.Dispatch([]byte(`{"type":"shutdown"}`))
	if resp["ok"] != true {
		t.Fatalf("expected ok=true, got %v", resp)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown callback to be invoked")
	}
}

func TestFileEntryRoundTripsJSON(t *testing.T) {
	entries := []FileEntry{{Name: "a.txt", Size: 10, IsDir: false}}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got []FileEntry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "a.txt" {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}
