package rpcserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
	"github.com/alessandrobrunoh/mnemosyne/internal/query"
	"github.com/alessandrobrunoh/mnemosyne/pkg/version"
)

// initializeResult is the capability exchange payload.
type initializeResult struct {
	ServerInfo      serverInfo `json:"server_info"`
	ProtocolVersion string     `json:"protocol_version"`
	Methods         []string   `json:"methods"`
	Languages       []string   `json:"languages"`
	MaxBatch        int        `json:"max_batch"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (c *conn) handleInitialize(req *Request) (any, *Error) {
	c.stateMu.Lock()
	if c.initialized {
		c.stateMu.Unlock()
		return nil, &Error{Code: ErrCodeAlreadyInitialized, Message: "already initialized"}
	}
	c.initialized = true
	c.stateMu.Unlock()

	return initializeResult{
		ServerInfo:      serverInfo{Name: "mnemd", Version: version.Short()},
		ProtocolVersion: protocolVersion,
		Methods:         supportedMethods,
		Languages:       c.srv.engine.SupportedLanguages(),
		MaxBatch:        c.srv.opts.MaxBatch,
	}, nil
}

func (c *conn) handleShutdown() (any, *Error) {
	c.stateMu.Lock()
	c.draining = true
	c.stateMu.Unlock()
	return map[string]bool{"ok": true}, nil
}

func (c *conn) handleExit() {
	if c.srv.opts.OnExit != nil {
		c.srv.opts.OnExit()
	}
}

type watchParams struct {
	Root   string `json:"root"`
	Branch string `json:"branch,omitempty"`
}

type watchResult struct {
	ProjectID string `json:"project_id"`
	Root      string `json:"root"`
	AuthToken string `json:"auth_token"`
	Created   bool   `json:"created"`
}

func (c *conn) handleWatch(ctx context.Context, req *Request) (any, *Error) {
	var params watchParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Root == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "root required"}
	}
	if info, err := os.Stat(params.Root); err != nil || !info.IsDir() {
		return nil, &Error{Code: ErrCodeProjectNotFound, Message: "root not found: " + params.Root}
	}

	p, created, err := c.srv.engine.Watch(ctx, params.Root)
	if err != nil {
		return nil, mapError(err)
	}
	if params.Branch != "" {
		p.Branch = params.Branch
	}
	return watchResult{
		ProjectID: p.ID,
		Root:      p.Root,
		AuthToken: p.AuthToken,
		Created:   created,
	}, nil
}

func (c *conn) handleUnwatch(ctx context.Context, p *project.Project) (any, *Error) {
	if err := c.srv.engine.Unwatch(ctx, p.ID); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"ok": true}, nil
}

type projectInfo struct {
	ProjectID string    `json:"project_id"`
	Root      string    `json:"root"`
	Branch    string    `json:"branch,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *conn) handleList() (any, *Error) {
	projects := c.srv.engine.Projects()
	out := make([]projectInfo, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectInfo{
			ProjectID: p.ID,
			Root:      p.Root,
			Branch:    p.Branch,
			CreatedAt: p.CreatedAt,
		})
	}
	return out, nil
}

func (c *conn) handleActivity(req *Request, p *project.Project) (any, *Error) {
	var params struct {
		Limit int `json:"limit,omitempty"`
	}
	_ = json.Unmarshal(req.Params, &params)
	entries, err := query.Activity(p, params.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func (c *conn) handleStatistics(p *project.Project) (any, *Error) {
	st, err := query.Stats(p)
	if err != nil {
		return nil, mapError(err)
	}
	return st, nil
}

type snapshotCreateParams struct {
	Path string `json:"path"`
}

type snapshotCreateResult struct {
	SnapshotID uint64 `json:"snapshot_id,omitempty"`
	Skipped    string `json:"skipped,omitempty"`
	Symbols    int    `json:"symbols"`
	Deltas     int    `json:"deltas"`
}

func (c *conn) handleSnapshotCreate(ctx context.Context, req *Request, p *project.Project) (any, *Error) {
	var params snapshotCreateParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Path == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "path required"}
	}
	res, err := c.srv.engine.Ingest(ctx, p, params.Path)
	if err != nil {
		return nil, mapError(err)
	}
	return snapshotCreateResult{
		SnapshotID: res.SnapshotID,
		Skipped:    string(res.Skipped),
		Symbols:    res.Symbols,
		Deltas:     res.Deltas,
	}, nil
}

type snapshotListParams struct {
	Path   string    `json:"path"`
	Branch string    `json:"branch,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Until  time.Time `json:"until,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

func (c *conn) handleSnapshotList(req *Request, p *project.Project) (any, *Error) {
	var params snapshotListParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Path == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "path required"}
	}
	entries, err := query.History(p, params.Path, query.HistoryOptions{
		Branch: params.Branch,
		Since:  params.Since,
		Until:  params.Until,
		Limit:  params.Limit,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

type snapshotGetParams struct {
	SnapshotID uint64 `json:"snapshot_id,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

type snapshotGetResult struct {
	SnapshotID uint64 `json:"snapshot_id"`
	Content    []byte `json:"content"` // base64 on the wire
}

func (c *conn) handleSnapshotGet(req *Request, p *project.Project) (any, *Error) {
	var params snapshotGetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid params"}
	}

	switch {
	case params.SnapshotID != 0:
		data, err := query.Content(p, params.SnapshotID)
		if err != nil {
			return nil, mapError(err)
		}
		return snapshotGetResult{SnapshotID: params.SnapshotID, Content: data}, nil
	case params.Digest != "":
		digest, err := cas.ParseDigest(params.Digest)
		if err != nil {
			return nil, &Error{Code: ErrCodeInvalidParams, Message: "invalid digest"}
		}
		data, snapID, err := query.ContentByDigest(p, digest)
		if err != nil {
			return nil, mapError(err)
		}
		return snapshotGetResult{SnapshotID: snapID, Content: data}, nil
	}
	return nil, &Error{Code: ErrCodeInvalidParams, Message: "snapshot_id or digest required"}
}

type snapshotRestoreParams struct {
	SnapshotID uint64 `json:"snapshot_id"`
	Path       string `json:"path,omitempty"` // defaults to the snapshot's own path
}

func (c *conn) handleSnapshotRestore(req *Request, p *project.Project) (any, *Error) {
	var params snapshotRestoreParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.SnapshotID == 0 {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "snapshot_id required"}
	}

	data, err := query.Content(p, params.SnapshotID)
	if err != nil {
		return nil, mapError(err)
	}

	rel := params.Path
	if rel == "" {
		rel, err = query.PathOfSnapshot(p, params.SnapshotID)
		if err != nil {
			return nil, mapError(err)
		}
	}

	abs := filepath.Join(p.Root, filepath.FromSlash(rel))
	if _, err := p.Rel(abs); err != nil {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "restore path escapes project root"}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, mapError(err)
	}
	tmp := abs + ".mnemosyne-restore"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, mapError(err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return nil, mapError(err)
	}
	return map[string]any{"path": rel, "bytes": len(data)}, nil
}

type symbolParams struct {
	Path      string `json:"path,omitempty"`
	Name      string `json:"name"`
	Scope     string `json:"scope,omitempty"`
	Kind      string `json:"kind,omitempty"`
	SnapshotA uint64 `json:"snapshot_a,omitempty"`
	SnapshotB uint64 `json:"snapshot_b,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (c *conn) symbolRef(req *Request) (symbolParams, query.SymbolRef, *Error) {
	var params symbolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return params, query.SymbolRef{}, &Error{Code: ErrCodeInvalidParams, Message: "invalid params"}
	}
	return params, query.SymbolRef{
		Path:  params.Path,
		Name:  params.Name,
		Scope: params.Scope,
		Kind:  params.Kind,
	}, nil
}

func (c *conn) handleSymbolHistory(req *Request, p *project.Project) (any, *Error) {
	params, ref, rpcErr := c.symbolRef(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" || params.Path == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "path and name required"}
	}
	entries, err := query.SymbolHistory(p, ref)
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func (c *conn) handleSymbolTimeline(req *Request, p *project.Project) (any, *Error) {
	params, ref, rpcErr := c.symbolRef(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "name required"}
	}
	entries, err := query.SemanticTimeline(p, ref)
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

func (c *conn) handleSymbolDiff(req *Request, p *project.Project) (any, *Error) {
	params, ref, rpcErr := c.symbolRef(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" || params.Path == "" || params.SnapshotA == 0 || params.SnapshotB == 0 {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "path, name, snapshot_a, snapshot_b required"}
	}
	a, b, equal, err := query.SymbolDiff(p, ref, params.SnapshotA, params.SnapshotB)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]any{"a": a, "b": b, "equal": equal}, nil
}

func (c *conn) handleSymbolSearch(req *Request, p *project.Project) (any, *Error) {
	var params symbolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Pattern == "" {
		return nil, &Error{Code: ErrCodeInvalidParams, Message: "pattern required"}
	}
	matches, err := query.SearchSymbols(p, params.Pattern, params.Limit)
	if err != nil {
		return nil, mapError(err)
	}
	return matches, nil
}
