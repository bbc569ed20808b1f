// Package rpc implements the server-side control-channel request
// dispatch: a fixed table of handler functions keyed by request type,
// mirroring the abstract request set spec.md §4.3 names plus the
// handshake/system-info enrichment recovered from the original
// service's rpc_handler.py.
package rpc

import (
	"encoding/json"
	"os"

	"github.com/MeeshMakes/dgx-bridge/internal/logging"
)

var log = logging.L("rpc")

// CaptureController exposes the video pump's tunable parameters to
// get/set_capture_params.
type CaptureController interface {
	Params() (fps, quality int)
	SetParams(fps, quality int) error
}

// ResolutionProvider exposes the resolution watcher's current reading
// to get_resolution and the hello handshake.
type ResolutionProvider interface {
	Current() (width, height int)
}

// TextTyper exposes the input injector's type_text call, which runs
// through the xdotool fallback rather than the XTEST fast path.
type TextTyper interface {
	TypeText(text string) error
}

// ShutdownFunc is invoked by the shutdown request after a response has
// been sent, so the caller sees the acknowledgement before the process
// exits.
type ShutdownFunc func()

// Handlers bundles everything request handling needs. Any field may be
// nil without panicking: most handlers then answer with an error
// response, hello falls back to default resolution and fps, and
// shutdown still answers ok.
type Handlers struct {
	Capture      CaptureController
	Resolution   ResolutionProvider
	Typer        TextTyper
	Files        FileOps
	Shutdown     ShutdownFunc
	AgentVersion string
}

// Request is the generic envelope every control-channel line decodes
// into before being re-decoded into a type-specific payload.
type Request struct {
	Type string `json:"type"`
}

// Dispatcher routes decoded request lines to the matching handler.
type Dispatcher struct {
	h     *Handlers
	table map[string]func(raw []byte) map[string]any
}

// NewDispatcher builds the fixed handler table.
func NewDispatcher(h *Handlers) *Dispatcher {
	d := &Dispatcher{h: h}
	d.table = map[string]func(raw []byte) map[string]any{
		"ping":               d.handlePing,
		"hello":              d.handleHello,
		"get_system_info":    d.handleGetSystemInfo,
		"get_resolution":     d.handleGetResolution,
		"set_capture_params": d.handleSetCaptureParams,
		"type_text":          d.handleTypeText,
		"get_service_status": d.handleGetServiceStatus,
		"shutdown":           d.handleShutdown,
		"list_files":         d.handleListFiles,
		"delete_file":        d.handleDeleteFile,
		"verify_file":        d.handleVerifyFile,
		"place_staged":       d.handlePlaceStaged,
		"get_staging_sha256": d.handleGetStagingSHA256,
		"cleanup_staging":    d.handleCleanupStaging,
		"open_bridge_folder": d.handleOpenBridgeFolder,
		"list_shared":        d.handleListShared,
		"delete_shared":      d.handleDeleteShared,
		"open_shared_drive":  d.handleOpenSharedDrive,
		"open_path":          d.handleOpenPath,
	}
	return d
}

// Dispatch decodes one control-channel line and returns the response
// object to send back. file_send and file_get are intentionally absent
// from the table — the session loop intercepts those before reaching
// Dispatch because they switch the connection into raw byte-stream
// mode.
func (d *Dispatcher) Dispatch(line []byte) map[string]any {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errResponse("invalid JSON: " + err.Error())
	}

	fn, ok := d.table[req.Type]
	if !ok {
		return errResponse("unknown request type: " + req.Type)
	}
	return fn(line)
}

func errResponse(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

func okResponse() map[string]any {
	return map[string]any{"ok": true}
}

func (d *Dispatcher) handlePing(raw []byte) map[string]any {
	var req struct {
		TS float64 `json:"ts"`
	}
	json.Unmarshal(raw, &req)
	return map[string]any{"ok": true, "type": "pong", "ts": req.TS}
}

func (d *Dispatcher) handleHello(raw []byte) map[string]any {
	width, height := 1920, 1080
	fps := 60
	if d.h.Resolution != nil {
		if w, h := d.h.Resolution.Current(); w > 0 {
			width, height = w, h
		}
	}
	if d.h.Capture != nil {
		fps, _ = d.h.Capture.Params()
	}

	hostname, _ := os.Hostname()
	resp := map[string]any{
		"ok":       true,
		"type":     "hello",
		"agent":    "DGX",
		"version":  d.h.AgentVersion,
		"width":    width,
		"height":   height,
		"fps":      fps,
		"hostname": hostname,
	}
	info := gatherSystemInfo()
	resp["os"] = info.OS
	resp["diskFreeGB"] = info.DiskFreeGB
	resp["gpus"] = info.GPUs
	return resp
}

func (d *Dispatcher) handleGetSystemInfo(raw []byte) map[string]any {
	info := gatherSystemInfo()
	hostname, _ := os.Hostname()
	return map[string]any{
		"ok":         true,
		"hostname":   hostname,
		"os":         info.OS,
		"diskFreeGB": info.DiskFreeGB,
		"gpus":       info.GPUs,
		"cpuPercent": info.CPUPercent,
		"memPercent": info.MemPercent,
	}
}

func (d *Dispatcher) handleGetResolution(raw []byte) map[string]any {
	if d.h.Resolution == nil {
		return errResponse("resolution watcher unavailable")
	}
	w, h := d.h.Resolution.Current()
	return map[string]any{"ok": true, "width": w, "height": h}
}

func (d *Dispatcher) handleSetCaptureParams(raw []byte) map[string]any {
	if d.h.Capture == nil {
		return errResponse("capture pump unavailable")
	}
	var req struct {
		FPS     int `json:"fps"`
		Quality int `json:"quality"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return errResponse(err.Error())
	}
	if err := d.h.Capture.SetParams(req.FPS, req.Quality); err != nil {
		return errResponse(err.Error())
	}
	fps, quality := d.h.Capture.Params()
	return map[string]any{"ok": true, "fps": fps, "quality": quality}
}

func (d *Dispatcher) handleTypeText(raw []byte) map[string]any {
	if d.h.Typer == nil {
		return errResponse("input injector unavailable")
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return errResponse(err.Error())
	}
	if err := d.h.Typer.TypeText(req.Text); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (d *Dispatcher) handleGetServiceStatus(raw []byte) map[string]any {
	resp := map[string]any{"ok": true, "running": true}
	if d.h.Capture != nil {
		fps, quality := d.h.Capture.Params()
		resp["fps"] = fps
		resp["quality"] = quality
	}
	return resp
}

func (d *Dispatcher) handleShutdown(raw []byte) map[string]any {
	log.Warn("shutdown requested via control channel")
	if d.h.Shutdown != nil {
		go d.h.Shutdown()
	}
	return okResponse()
}
