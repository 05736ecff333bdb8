package stream

import "log/slog"

// Link is a unit stream transformer. Links are pure with respect to
// engine state; side effects, such as meta-store patches, are explicit
// collaborators captured at construction time. A link must preserve the
// relative order of operations it passes through.
type Link func(Stream) Stream

// Compose applies links in order: the first link sees the rawest data.
func Compose(source Stream, links ...Link) Stream {
	out := source
	for _, link := range links {
		if link == nil {
			continue
		}
		out = link(out)
	}
	return out
}

// Handler transforms one operation into zero or more operations. A nil
// result slice drops the operation; returning an error aborts the run.
type Handler func(op Operation) ([]Operation, error)

// Handlers dispatches per operation kind. Kinds without a handler pass
// through unchanged.
type Handlers struct {
	Data       Handler
	Commit     Handler
	ConnUpdate Handler
	MetaUpdate Handler
}

func (h Handlers) forKind(kind OpKind) Handler {
	switch kind {
	case KindData:
		return h.Data
	case KindCommit:
		return h.Commit
	case KindConnUpdate:
		return h.ConnUpdate
	case KindMetaUpdate:
		return h.MetaUpdate
	}
	return nil
}

type handlersStream struct {
	in       Stream
	handlers Handlers
	pending  []Operation
	cur      Operation
	err      error
}

// HandlersLink builds a link from per-kind handlers. Fan-out preserves
// sub-sequence order: operations returned by one handler call are
// yielded before the next upstream operation is pulled.
func HandlersLink(h Handlers) Link {
	return func(in Stream) Stream {
		return &handlersStream{in: in, handlers: h}
	}
}

func (s *handlersStream) Next() bool {
	if s.err != nil {
		return false
	}
	for {
		if len(s.pending) > 0 {
			s.cur = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if !s.in.Next() {
			return false
		}
		op := s.in.Value()
		handler := s.handlers.forKind(op.Kind)
		if handler == nil {
			s.cur = op
			return true
		}
		out, err := handler(op)
		if err != nil {
			s.err = err
			return false
		}
		s.pending = out
	}
}

func (s *handlersStream) Value() Operation { return s.cur }

func (s *handlersStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.in.Err()
}

func (s *handlersStream) Close() error { return s.in.Close() }

// Map transforms every operation one-to-one.
func Map(fn func(op Operation) (Operation, error)) Link {
	handle := func(op Operation) ([]Operation, error) {
		out, err := fn(op)
		if err != nil {
			return nil, err
		}
		return []Operation{out}, nil
	}
	return HandlersLink(Handlers{Data: handle, Commit: handle, ConnUpdate: handle, MetaUpdate: handle})
}

// Filter keeps only operations the predicate accepts. Commit markers
// always pass through so checkpointing survives aggressive filters.
func Filter(keep func(op Operation) bool) Link {
	handle := func(op Operation) ([]Operation, error) {
		if op.Kind == KindCommit || keep(op) {
			return []Operation{op}, nil
		}
		return nil, nil
	}
	return HandlersLink(Handlers{Data: handle, ConnUpdate: handle, MetaUpdate: handle})
}

// MapData transforms data payloads, passing other kinds through. The
// mapper returning nil drops the record, which is how unmapped entity
// variants are filtered rather than forwarded raw.
func MapData(fn func(data *DataPayload) (*DataPayload, error)) Link {
	return HandlersLink(Handlers{
		Data: func(op Operation) ([]Operation, error) {
			mapped, err := fn(op.Data)
			if err != nil {
				return nil, err
			}
			if mapped == nil {
				return nil, nil
			}
			return []Operation{{Kind: KindData, Data: mapped}}, nil
		},
	})
}

// Log passes every operation through while logging it, mirroring the
// diagnostic links threaded into pipelines during debugging.
func Log(logger *slog.Logger, prefix string) Link {
	if logger == nil {
		logger = slog.Default()
	}
	return Map(func(op Operation) (Operation, error) {
		attrs := []any{slog.String("kind", string(op.Kind))}
		if op.Data != nil {
			attrs = append(attrs, slog.String("entity", op.Data.EntityName), slog.String("id", op.Data.ID))
		}
		logger.Debug(prefix, attrs...)
		return op, nil
	})
}
