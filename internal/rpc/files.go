package rpc

import "encoding/json"

// FileEntry describes one file for list_files/list_shared responses.
type FileEntry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir"`
}

// FileOps is implemented by internal/filebridge and backs every
// file-management request named in spec.md §4.3's abstract set beyond
// the byte-stream upload/download handled directly by the session
// loop. place_staged/get_staging_sha256/cleanup_staging operate on the
// per-session BridgeStaging/<session_id> area; list_shared/
// delete_shared/open_shared_drive operate on the legacy closed-set
// transfer folders kept for back-compat per SPEC_FULL.md §4;
// open_bridge_folder opens the staging root and open_path opens the
// path it is given.
type FileOps interface {
	ListFiles(folder string) ([]FileEntry, error)
	DeleteFile(folder, name string) error
	VerifyFile(folder, name string) (sha256 string, err error)
	PlaceStaged(sessionID, name, destPath string) (destination string, err error)
	StagingSHA256(sessionID, name string) (sha256 string, err error)
	CleanupStaging(sessionID string) error
	OpenPath(path string) error
	OpenBridgeFolder() error
	ListShared() ([]FileEntry, error)
	DeleteShared(name string) error
	OpenSharedDrive() error
}

func (d *Dispatcher) handleListFiles(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		Folder string `json:"folder"`
	}
	json.Unmarshal(raw, &req)
	entries, err := d.h.Files.ListFiles(req.Folder)
	if err != nil {
		return errResponse(err.Error())
	}
	return map[string]any{"ok": true, "files": entries}
}

func (d *Dispatcher) handleDeleteFile(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		Folder string `json:"folder"`
		Name   string `json:"name"`
	}
	json.Unmarshal(raw, &req)
	if err := d.h.Files.DeleteFile(req.Folder, req.Name); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (d *Dispatcher) handleVerifyFile(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		Folder string `json:"folder"`
		Name   string `json:"name"`
	}
	json.Unmarshal(raw, &req)
	sum, err := d.h.Files.VerifyFile(req.Folder, req.Name)
	if err != nil {
		return errResponse(err.Error())
	}
	return map[string]any{"ok": true, "sha256": sum}
}

func (d *Dispatcher) handlePlaceStaged(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
		DestPath  string `json:"destPath"`
	}
	json.Unmarshal(raw, &req)
	dest, err := d.h.Files.PlaceStaged(req.SessionID, req.Name, req.DestPath)
	if err != nil {
		return errResponse(err.Error())
	}
	return map[string]any{"ok": true, "destination": dest}
}

func (d *Dispatcher) handleGetStagingSHA256(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
	}
	json.Unmarshal(raw, &req)
	sum, err := d.h.Files.StagingSHA256(req.SessionID, req.Name)
	if err != nil {
		return errResponse(err.Error())
	}
	return map[string]any{"ok": true, "sha256": sum}
}

func (d *Dispatcher) handleCleanupStaging(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		SessionID string `json:"sessionId"`
	}
	json.Unmarshal(raw, &req)
	if err := d.h.Files.CleanupStaging(req.SessionID); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (d *Dispatcher) handleOpenBridgeFolder(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	if err := d.h.Files.OpenBridgeFolder(); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (d *Dispatcher) handleListShared(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	entries, err := d.h.Files.ListShared()
	if err != nil {
		return errResponse(err.Error())
	}
	return map[string]any{"ok": true, "files": entries}
}

func (d *Dispatcher) handleDeleteShared(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		Name string `json:"name"`
	}
	json.Unmarshal(raw, &req)
	if err := d.h.Files.DeleteShared(req.Name); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (d *Dispatcher) handleOpenSharedDrive(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	if err := d.h.Files.OpenSharedDrive(); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}

func (d *Dispatcher) handleOpenPath(raw []byte) map[string]any {
	if d.h.Files == nil {
		return errResponse("file bridge unavailable")
	}
	var req struct {
		Path string `json:"path"`
	}
	json.Unmarshal(raw, &req)
	if err := d.h.Files.OpenPath(req.Path); err != nil {
		return errResponse(err.Error())
	}
	return okResponse()
}
