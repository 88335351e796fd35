package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/zewif/log"
	"github.com/colorfulnotion/zewif/merkle"
	"github.com/colorfulnotion/zewif/witness"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoteIssue is a note that did not make it into the session.
type NoteIssue struct {
	Commitment merkle.HashNode
	Err        error
}

// Report summarizes one pool import.
type Report struct {
	Pool     witness.Pool
	TreeSize uint64
	Imported int
	// Skipped records failed structural validation.
	Skipped []NoteIssue
	// Aborted records decoded but could not follow the pool's tree.
	Aborted []NoteIssue
}

// Warnings renders the skipped and aborted notes for display.
func (r *Report) Warnings() []string {
	out := make([]string, 0, len(r.Skipped)+len(r.Aborted))
	for _, n := range r.Skipped {
		out = append(out, fmt.Sprintf("%s note %s skipped: %v", r.Pool, n.Commitment, n.Err))
	}
	for _, n := range r.Aborted {
		out = append(out, fmt.Sprintf("%s note %s aborted: %v", r.Pool, n.Commitment, n.Err))
	}
	return out
}

// Import loads the pool's frontier and witness records from store into the
// session. A record that fails decoding is skipped and one that does not
// match the frontier is aborted; both are reported and the rest continue.
func (s *Session) Import(ctx context.Context, store *witness.Store, pool witness.Pool) (report *Report, err error) {
	_, span := s.tracer.Start(ctx, "migrate.Import", trace.WithAttributes(attribute.String("pool", pool.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("imported", report.Imported),
				attribute.Int("skipped", len(report.Skipped)),
				attribute.Int("aborted", len(report.Aborted)),
			)
		}
		span.End()
	}()

	if err := pool.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trees[pool]; ok && t.Size() > 0 {
		return nil, fmt.Errorf("%w: %s has %d leaves", ErrPoolPopulated, pool, t.Size())
	}

	t := merkle.NewTree(pool.Config())
	frontier, ok, err := store.GetFrontier(pool)
	if err != nil {
		return nil, fmt.Errorf("load %s frontier: %w", pool, err)
	}
	if ok {
		t, err = merkle.RestoreTree(pool.Config(), frontier.Size(), frontier.Ommers())
		if err != nil {
			return nil, err
		}
	}

	records, err := store.List(pool)
	if err != nil {
		return nil, err
	}

	report = &Report{Pool: pool, TreeSize: t.Size()}
	notes := make(map[merkle.HashNode]uint64, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, err := witness.Unmarshal(pool, rec.Data)
		if err != nil {
			if errors.Is(err, merkle.ErrSerializationMismatch) {
				report.Skipped = append(report.Skipped, NoteIssue{Commitment: rec.Commitment, Err: err})
				log.Warn(log.MigrateMonitoring, "witness record skipped", "pool", pool, "commitment", rec.Commitment, "err", err)
				continue
			}
			return nil, err
		}
		if w.Commitment() != rec.Commitment {
			err := fmt.Errorf("%w: record keyed %s holds %s", merkle.ErrSerializationMismatch, rec.Commitment, w.Commitment())
			report.Skipped = append(report.Skipped, NoteIssue{Commitment: rec.Commitment, Err: err})
			log.Warn(log.MigrateMonitoring, "witness record skipped", "pool", pool, "commitment", rec.Commitment, "err", err)
			continue
		}
		if err := t.Track(w); err != nil {
			if errors.Is(err, merkle.ErrInconsistentAppendOrder) {
				report.Aborted = append(report.Aborted, NoteIssue{Commitment: rec.Commitment, Err: err})
				log.Warn(log.MigrateMonitoring, "witness import aborted", "pool", pool, "commitment", rec.Commitment, "err", err)
				continue
			}
			return nil, err
		}
		notes[w.Commitment()] = w.Position()
		report.Imported++
	}

	s.trees[pool] = t
	s.notes[pool] = notes
	delete(s.closed, pool)
	if t.Frontier().IsFull() {
		s.closed[pool] = fmt.Errorf("%w: imported full", merkle.ErrTreeFull)
	}
	log.Info(log.MigrateMonitoring, "pool imported", "pool", pool, "treeSize", t.Size(),
		"imported", report.Imported, "skipped", len(report.Skipped), "aborted", len(report.Aborted))
	return report, nil
}
