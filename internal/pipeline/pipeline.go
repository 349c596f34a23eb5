// Package pipeline orchestrates one file-save ingest: check ignore rules,
// map the file, chunk and parse in parallel, short-circuit unchanged
// content, persist blobs and trigram filters, diff symbols against the
// parent snapshot, and commit everything in a single index transaction.
package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alessandrobrunoh/mnemosyne/internal/cas"
	"github.com/alessandrobrunoh/mnemosyne/internal/chunker"
	"github.com/alessandrobrunoh/mnemosyne/internal/config"
	"github.com/alessandrobrunoh/mnemosyne/internal/differ"
	"github.com/alessandrobrunoh/mnemosyne/internal/indexstore"
	"github.com/alessandrobrunoh/mnemosyne/internal/mnemerr"
	"github.com/alessandrobrunoh/mnemosyne/internal/model"
	"github.com/alessandrobrunoh/mnemosyne/internal/parser"
	"github.com/alessandrobrunoh/mnemosyne/internal/project"
	"github.com/alessandrobrunoh/mnemosyne/internal/symbols"
	"github.com/alessandrobrunoh/mnemosyne/internal/trigram"
)

// binarySniffLen is how many leading bytes the binary heuristic inspects.
const binarySniffLen = 8 * 1024

// SkipReason explains why an ingest produced no snapshot.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipIgnored   SkipReason = "ignored"
	SkipBinary    SkipReason = "binary"
	SkipTooLarge  SkipReason = "too_large"
	SkipLowSpace  SkipReason = "low_space"
	SkipUnchanged SkipReason = "unchanged"
)

// Result reports what one ingest did.
type Result struct {
	SnapshotID uint64
	Skipped    SkipReason
	Symbols    int
	Deltas     int
	Unparsed   bool
}

// Pipeline is the shared ingest machinery; one instance serves every
// project. CPU-bound stages (chunking, parsing, hashing) are bounded by the
// worker semaphore so a burst of saves degrades to queueing, not to
// unbounded goroutines.
type Pipeline struct {
	cfg       *config.Config
	parsers   parser.Capability
	extractor *symbols.Extractor
	workers   *semaphore.Weighted
	logger    *slog.Logger

	// brokenChains marks paths whose chain-head was dropped by a rename;
	// the next ingest of such a path starts a fresh chain instead of
	// extending the renamed-away history.
	brokenChains map[*project.Project]map[string]bool
	brokenMu     sync.Mutex
}

// New builds a Pipeline over the given parser capability.
func New(cfg *config.Config, parsers parser.Capability, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:          cfg,
		parsers:      parsers,
		extractor:    symbols.NewExtractor(parsers),
		workers:      semaphore.NewWeighted(int64(cfg.Ingest.Workers)),
		logger:       logger,
		brokenChains: make(map[*project.Project]map[string]bool),
	}
}

// BreakChain drops the chain-head marker for rel within p: the path's next
// snapshot gets no parent. History under the old chain stays queryable.
func (pl *Pipeline) BreakChain(p *project.Project, rel string) {
	pl.brokenMu.Lock()
	defer pl.brokenMu.Unlock()
	m := pl.brokenChains[p]
	if m == nil {
		m = make(map[string]bool)
		pl.brokenChains[p] = m
	}
	m[rel] = true
}

func (pl *Pipeline) takeBrokenChain(p *project.Project, rel string) bool {
	pl.brokenMu.Lock()
	defer pl.brokenMu.Unlock()
	if m := pl.brokenChains[p]; m[rel] {
		delete(m, rel)
		return true
	}
	return false
}

// Forget releases rename bookkeeping for a project being unwatched.
func (pl *Pipeline) Forget(p *project.Project) {
	pl.brokenMu.Lock()
	defer pl.brokenMu.Unlock()
	delete(pl.brokenChains, p)
}

// Ingest snapshots the file at absPath within p. Ingests for the same path
// serialize on the per-path mutex; different paths proceed concurrently.
// Ingests are not cancellable once accepted: ctx only gates the CPU stages
// before the commit.
func (pl *Pipeline) Ingest(ctx context.Context, p *project.Project, absPath string) (*Result, error) {
	rel, err := p.Rel(absPath)
	if err != nil {
		return nil, mnemerr.ProtocolErr(err.Error(), err)
	}

	lock := p.PathLock(rel)
	lock.Lock()
	defer lock.Unlock()

	res, err := pl.ingestLocked(ctx, p, absPath, rel)
	if err == nil {
		return res, nil
	}

	// Transient I/O outside the commit path retries once with backoff;
	// a second failure surfaces as a per-path warning and drops the
	// ingest, leaving history untouched.
	if mnemerr.IsRetryable(err) {
		time.Sleep(50 * time.Millisecond)
		if res, retryErr := pl.ingestLocked(ctx, p, absPath, rel); retryErr == nil {
			return res, nil
		}
		p.Stats.IOWarnings.Add(1)
		pl.logger.Warn("ingest dropped after retry",
			slog.String("path", rel), slog.String("error", err.Error()))
	}
	return nil, err
}

func (pl *Pipeline) ingestLocked(ctx context.Context, p *project.Project, absPath, rel string) (*Result, error) {
	start := time.Now()

	// Ignore check precedes any file I/O: excluded paths cost nothing.
	if p.Ignore.Match(rel, false) {
		return &Result{Skipped: SkipIgnored}, nil
	}

	if free := freeSpace(p.Root); free < pl.cfg.Ingest.MinFreeSpace {
		p.Stats.ResourceSkips.Add(1)
		pl.logger.Warn("ingest skipped, low disk space",
			slog.String("path", rel), slog.Int64("free_bytes", free))
		return &Result{Skipped: SkipLowSpace}, nil
	}

	m, err := mapFile(absPath)
	if err != nil {
		return nil, mnemerr.Wrap(mnemerr.CodeIOTransient, err)
	}
	defer m.Close()
	content := m.Bytes()

	if int64(len(content)) > pl.cfg.Ingest.MaxFileSize {
		p.Stats.ResourceSkips.Add(1)
		return &Result{Skipped: SkipTooLarge}, nil
	}

	sniff := content
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return &Result{Skipped: SkipBinary}, nil
	}

	contentDigest := cas.Sum(content)

	// Dedup short-circuit: identical bytes to the path's head snapshot
	// record nothing.
	parent, hasParent, err := pl.headSnapshot(p, rel)
	if err != nil {
		return nil, err
	}
	if pl.takeBrokenChain(p, rel) {
		hasParent = false
	}
	if hasParent && parent.ContentDigest == contentDigest {
		p.Stats.DedupSkips.Add(1)
		return &Result{Skipped: SkipUnchanged}, nil
	}

	// Chunking and parsing+extraction run in parallel on the worker pool.
	// The chunks are views into the mapping, so it stays mapped until this
	// ingest returns; it is not released when chunking and parsing finish.
	var chunks []chunker.Chunk
	var syms []symbols.Symbol
	unparsed := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := pl.workers.Acquire(gctx, 1); err != nil {
			return err
		}
		defer pl.workers.Release(1)
		chunks = chunker.Split(content)
		return nil
	})
	g.Go(func() error {
		if err := pl.workers.Acquire(gctx, 1); err != nil {
			return err
		}
		defer pl.workers.Release(1)
		syms, unparsed = pl.parseAndExtract(gctx, rel, content)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if unparsed {
		p.Stats.ParseFailures.Add(1)
	}

	// Persist blobs and compute per-chunk trigram filters before the index
	// transaction; both are idempotent, so a crash between here and commit
	// leaves only unreferenced blobs behind.
	type chunkMeta struct {
		entry  indexstore.ChunkMapEntry
		filter trigram.Filter
	}
	metas := make([]chunkMeta, 0, len(chunks))
	for _, c := range chunks {
		if !p.CAS.Exists(c.Digest) {
			if _, err := p.CAS.Put(c.Bytes); err != nil {
				return nil, err
			}
		}
		metas = append(metas, chunkMeta{
			entry:  indexstore.ChunkMapEntry{Digest: c.Digest, Length: uint32(c.Length)},
			filter: trigram.Build(c.Bytes),
		})
	}

	var prior []symbols.Symbol
	if hasParent {
		prior, err = pl.loadSymbols(p, parent.ID)
		if err != nil {
			return nil, err
		}
	}
	deltas := differ.Diff(prior, syms)

	// Single transaction across every table: the snapshot either exists
	// completely or not at all.
	var snapshotID uint64
	err = p.Index.Update(func(tx indexstore.Tx) error {
		pathID, err := tx.InternPath(rel)
		if err != nil {
			return err
		}
		snapshotID, err = tx.NextSnapshotID()
		if err != nil {
			return err
		}
		chunkMapID, err := tx.NextChunkMapID()
		if err != nil {
			return err
		}

		entries := make([]indexstore.ChunkMapEntry, len(metas))
		for i, cm := range metas {
			entries[i] = cm.entry
		}
		if err := tx.PutChunkMap(chunkMapID, entries); err != nil {
			return err
		}

		var parentID uint64
		if hasParent {
			parentID = parent.ID
		}
		rec := indexstore.SnapshotRecord{
			ID:            snapshotID,
			PathID:        pathID,
			ParentID:      parentID,
			ContentDigest: contentDigest,
			ChunkMapID:    chunkMapID,
			Timestamp:     time.Now().UnixNano(),
			BranchID:      p.Branch,
			Size:          int64(len(content)),
			Unparsed:      unparsed,
		}
		if err := tx.PutSnapshot(rec); err != nil {
			return err
		}

		for ord, s := range syms {
			nameID, err := tx.InternName(s.Name)
			if err != nil {
				return err
			}
			scopeID, err := tx.InternScope(s.QualifiedScope)
			if err != nil {
				return err
			}
			err = tx.PutSymbol(snapshotID, uint32(ord), indexstore.SymbolRecord{
				NameID:           nameID,
				ScopeID:          scopeID,
				Kind:             string(s.Kind),
				SpanStart:        s.Span.Start,
				SpanEnd:          s.Span.End,
				StructuralDigest: s.StructuralDigest,
			})
			if err != nil {
				return err
			}
		}

		for ord, d := range deltas {
			rec, err := deltaRecord(tx, d)
			if err != nil {
				return err
			}
			if err := tx.PutDelta(snapshotID, uint32(ord), rec); err != nil {
				return err
			}
		}

		for _, cm := range metas {
			if err := tx.PutTrigram(cm.entry.Digest, uint64(cm.filter)); err != nil {
				return err
			}
			if _, err := tx.IncBlobRef(cm.entry.Digest, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.Stats.Ingests.Add(1)
	pl.logger.Debug("snapshot committed",
		slog.String("path", rel),
		slog.Uint64("snapshot_id", snapshotID),
		slog.Int("symbols", len(syms)),
		slog.Int("deltas", len(deltas)),
		slog.Duration("duration", time.Since(start)))

	return &Result{
		SnapshotID: snapshotID,
		Symbols:    len(syms),
		Deltas:     len(deltas),
		Unparsed:   unparsed,
	}, nil
}

// parseAndExtract runs the parser adapter and symbol extractor. An
// unsupported language yields no symbols and no flag; a failed parse of a
// supported language yields no symbols with the unparsed flag set.
func (pl *Pipeline) parseAndExtract(ctx context.Context, rel string, content []byte) ([]symbols.Symbol, bool) {
	leading := content
	if len(leading) > 512 {
		leading = leading[:512]
	}
	lang, ok := pl.parsers.DetectLanguage(rel, leading)
	if !ok {
		return nil, false
	}
	tree, err := pl.parsers.Parse(ctx, lang, content)
	if err != nil {
		return nil, true
	}
	return pl.extractor.Extract(tree), false
}

func (pl *Pipeline) headSnapshot(p *project.Project, rel string) (indexstore.SnapshotRecord, bool, error) {
	var rec indexstore.SnapshotRecord
	var found bool
	err := p.Index.View(func(tx indexstore.Tx) error {
		pathID, ok, err := tx.LookupPath(rel)
		if err != nil || !ok {
			return err
		}
		rec, found, err = tx.HeadSnapshot(pathID)
		return err
	})
	return rec, found, err
}

// loadSymbols reads a snapshot's symbol set back into the in-memory form
// the differ consumes.
func (pl *Pipeline) loadSymbols(p *project.Project, snapshotID uint64) ([]symbols.Symbol, error) {
	var out []symbols.Symbol
	err := p.Index.View(func(tx indexstore.Tx) error {
		var iterErr error
		err := tx.SymbolsForSnapshot(snapshotID, func(_ uint32, rec indexstore.SymbolRecord) bool {
			name, _, err := tx.NameString(rec.NameID)
			if err != nil {
				iterErr = err
				return false
			}
			scope, _, err := tx.ScopeString(rec.ScopeID)
			if err != nil {
				iterErr = err
				return false
			}
			out = append(out, symbols.Symbol{
				Name:             name,
				QualifiedScope:   scope,
				Kind:             symbols.Kind(rec.Kind),
				Span:             symbols.Span{Start: rec.SpanStart, End: rec.SpanEnd},
				StructuralDigest: rec.StructuralDigest,
			})
			return true
		})
		if iterErr != nil {
			return iterErr
		}
		return err
	})
	return out, err
}

// deltaRecord interns the strings of both delta sides.
func deltaRecord(tx indexstore.Tx, d model.Delta) (indexstore.DeltaRecord, error) {
	rec := indexstore.DeltaRecord{Kind: string(d.Kind)}
	convert := func(s *symbols.Symbol) (*indexstore.DeltaSymbol, error) {
		if s == nil {
			return nil, nil
		}
		nameID, err := tx.InternName(s.Name)
		if err != nil {
			return nil, err
		}
		scopeID, err := tx.InternScope(s.QualifiedScope)
		if err != nil {
			return nil, err
		}
		return &indexstore.DeltaSymbol{
			NameID:           nameID,
			ScopeID:          scopeID,
			Kind:             string(s.Kind),
			SpanStart:        s.Span.Start,
			SpanEnd:          s.Span.End,
			StructuralDigest: s.StructuralDigest,
		}, nil
	}
	var err error
	if rec.Old, err = convert(d.Old); err != nil {
		return rec, err
	}
	if rec.New, err = convert(d.New); err != nil {
		return rec, err
	}
	return rec, nil
}
